package sdk

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// The guest uses the same deterministic CBOR profile as the host so
// both sides produce byte-identical encodings for equal values.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("sdk: cbor encode mode: %v", err))
	}
	decMode, err = cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("sdk: cbor decode mode: %v", err))
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
