package lapps

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lapphost/lapphost/domain/entities"
)

type ManagerSuite struct {
	suite.Suite

	dir    string
	loader *fakeLoader
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.loader = &fakeLoader{}
}

// addLappDir lays out one lapp directory under the manager root.
func (s *ManagerSuite) addLappDir(name string, settings entities.LappSettings) {
	root := filepath.Join(s.dir, name)
	s.Require().NoError(os.MkdirAll(root, 0o755))
	s.Require().NoError(os.WriteFile(
		filepath.Join(root, name+serverModuleSuffix), []byte("\x00asm"), 0o644))
	s.Require().NoError(SaveSettings(filepath.Join(root, SettingsFileName), &settings))
}

func (s *ManagerSuite) newManager() *Manager {
	m, err := NewManager(s.dir, WithInstanceLoader(s.loader))
	s.Require().NoError(err)
	return m
}

func (s *ManagerSuite) TestScanRegistersDirectories() {
	s.addLappDir("notes", enabledSettings())
	s.addLappDir("todo", enabledSettings())
	// Stray files in the lapps dir are not lapps.
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "README"), nil, 0o644))

	m := s.newManager()
	s.Equal([]string{"notes", "todo"}, m.Names())
}

func (s *ManagerSuite) TestUnknownLappIsNotFound() {
	m := s.newManager()

	err := m.Load(s.T().Context(), "ghost")
	s.True(entities.IsKind(err, entities.KindNotFound), "got %v", err)
}

func (s *ManagerSuite) TestBrokenSettingsStillRegisters() {
	root := filepath.Join(s.dir, "broken")
	s.Require().NoError(os.MkdirAll(root, 0o755))
	s.Require().NoError(os.WriteFile(
		filepath.Join(root, SettingsFileName), []byte("not: [valid"), 0o644))

	m := s.newManager()
	s.Contains(m.Names(), "broken")

	// Zero-value settings leave the lapp disabled.
	var enabled bool
	s.Require().NoError(m.Read("broken", func(l *Lapp) error {
		enabled = l.Enabled()
		return nil
	}))
	s.False(enabled)
}

func (s *ManagerSuite) TestRegisterDuplicate() {
	s.addLappDir("notes", enabledSettings())
	m := s.newManager()

	s.Error(m.Register("notes"))
	s.NoError(m.Register("fresh"))
}

func (s *ManagerSuite) TestLoadAllSkipsMainAndDisabled() {
	s.addLappDir("on", enabledSettings())
	disabled := enabledSettings()
	disabled.Application.Enabled = false
	s.addLappDir("off", disabled)
	s.Require().NoError(os.MkdirAll(filepath.Join(s.dir, MainLappName), 0o755))

	m := s.newManager()
	m.LoadAll(s.T().Context())

	s.Equal(1, s.loader.loads)
	s.Require().NoError(m.Read("on", func(l *Lapp) error {
		s.True(l.IsLoaded())
		return nil
	}))
	s.Require().NoError(m.Read("off", func(l *Lapp) error {
		s.False(l.IsLoaded())
		return nil
	}))

	// A second pass finds nothing left to load.
	m.LoadAll(s.T().Context())
	s.Equal(1, s.loader.loads)
}

func (s *ManagerSuite) TestUpdateReturnsChangedFields() {
	settings := enabledSettings(entities.PermissionDatabase)
	settings.Permissions.Allowed = nil
	s.addLappDir("notes", settings)
	m := s.newManager()

	db := entities.PermissionDatabase
	applied, err := m.Update("notes", entities.UpdateQuery{AllowPermission: &db})
	s.Require().NoError(err)
	s.Require().NotNil(applied.AllowPermission)

	applied, err = m.Update("notes", entities.UpdateQuery{AllowPermission: &db})
	s.Require().NoError(err)
	s.True(applied.Empty())
}

func (s *ManagerSuite) TestListSnapshotsAllButMain() {
	s.addLappDir("notes", enabledSettings())
	s.Require().NoError(os.MkdirAll(filepath.Join(s.dir, MainLappName), 0o755))
	m := s.newManager()
	s.Require().NoError(m.Load(s.T().Context(), "notes"))

	infos := m.List()
	s.Require().Len(infos, 1)
	s.Equal("notes", infos[0].Name)
	s.True(infos[0].Loaded)
	s.False(infos[0].ServiceRunning)
}

func (s *ManagerSuite) TestConcurrentRunServiceIfNeeded() {
	s.addLappDir("notes", enabledSettings())
	inst := &fakeInstance{}
	s.loader.instance = inst
	m := s.newManager()
	s.Require().NoError(m.Load(s.T().Context(), "notes"))

	const callers = 8
	senders := make([]*ServiceSender, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender, err := m.RunServiceIfNeeded("notes")
			s.NoError(err)
			senders[i] = sender
		}()
	}
	wg.Wait()

	for _, sender := range senders[1:] {
		s.Same(senders[0], sender)
	}
	s.Require().NoError(m.Unload(s.T().Context(), "notes"))
	s.True(inst.closed)
}

func (s *ManagerSuite) TestConcurrentDispatchOnDistinctLapps() {
	s.addLappDir("alpha", enabledSettings())
	s.addLappDir("beta", enabledSettings())
	m := s.newManager()
	m.LoadAll(s.T().Context())

	var wg sync.WaitGroup
	for _, name := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := m.ProcessRequest(s.T().Context(), name, []byte("req"))
			s.NoError(err)
			s.Equal([]byte("ok"), resp)
		}()
	}
	wg.Wait()
}

func (s *ManagerSuite) TestCloseUnloadsAndRejectsFurtherOps() {
	s.addLappDir("notes", enabledSettings())
	inst := &fakeInstance{}
	s.loader.instance = inst
	m := s.newManager()
	s.Require().NoError(m.Load(s.T().Context(), "notes"))

	s.Require().NoError(m.Close(s.T().Context()))
	s.True(inst.closed)

	err := m.Load(s.T().Context(), "notes")
	s.True(entities.IsKind(err, entities.KindLockUnavailable), "got %v", err)
	s.Error(m.Register("late"))

	// Closing twice is fine.
	s.NoError(m.Close(s.T().Context()))
}

func TestNewManagerMissingDir(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
