package hypervisor

import (
	"errors"
	"testing"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory libvirt: a map of defined domains with raw
// states, recording lifecycle calls.
type fakeAPI struct {
	domains map[libvirt.UUID]int32
	calls   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{domains: make(map[libvirt.UUID]int32)}
}

func (f *fakeAPI) define(id types.ID, state libvirt.DomainState) {
	f.domains[libvirt.UUID(id)] = int32(state)
}

func (f *fakeAPI) DomainDefineXML(xml string) (libvirt.Domain, error) {
	f.calls = append(f.calls, "define")
	return libvirt.Domain{Name: "defined"}, nil
}

func (f *fakeAPI) DomainCreate(dom libvirt.Domain) error {
	f.calls = append(f.calls, "create")
	f.domains[dom.UUID] = int32(libvirt.DomainRunning)
	return nil
}

func (f *fakeAPI) DomainResume(dom libvirt.Domain) error {
	f.calls = append(f.calls, "resume")
	f.domains[dom.UUID] = int32(libvirt.DomainRunning)
	return nil
}

func (f *fakeAPI) DomainDestroy(dom libvirt.Domain) error {
	f.calls = append(f.calls, "destroy")
	f.domains[dom.UUID] = int32(libvirt.DomainShutoff)
	return nil
}

func (f *fakeAPI) DomainUndefine(dom libvirt.Domain) error {
	f.calls = append(f.calls, "undefine")
	delete(f.domains, dom.UUID)
	return nil
}

func (f *fakeAPI) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	state, ok := f.domains[dom.UUID]
	if !ok {
		return 0, 0, errors.New("domain not found")
	}
	return state, 0, nil
}

func (f *fakeAPI) DomainLookupByUUID(uuid libvirt.UUID) (libvirt.Domain, error) {
	if _, ok := f.domains[uuid]; !ok {
		return libvirt.Domain{}, errors.New("domain not found")
	}
	return libvirt.Domain{UUID: uuid}, nil
}

func (f *fakeAPI) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	var out []libvirt.Domain
	for uuid := range f.domains {
		out = append(out, libvirt.Domain{UUID: uuid})
	}
	return out, uint32(len(out)), nil
}

func TestProjection(t *testing.T) {
	cases := []struct {
		raw  libvirt.DomainState
		want types.LifecycleState
	}{
		{libvirt.DomainRunning, types.StateRunning},
		{libvirt.DomainPaused, types.StatePaused},
		{libvirt.DomainBlocked, types.StatePaused},
		{libvirt.DomainPmsuspended, types.StatePaused},
		{libvirt.DomainShutdown, types.StateShuttingDown},
		{libvirt.DomainShutoff, types.StateStopped},
		{libvirt.DomainCrashed, types.StateStopped},
		{libvirt.DomainNostate, types.StateUndefined},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Project(int32(tc.raw)), "raw state %d", tc.raw)
	}
}

func TestStateNoHandleIsUndefined(t *testing.T) {
	c := NewWithAPI(newFakeAPI())

	state, err := c.State(types.NewID())
	require.NoError(t, err)
	assert.Equal(t, types.StateUndefined, state)
}

func TestStartFromStopped(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api)
	id := types.NewID()
	api.define(id, libvirt.DomainShutoff)

	require.NoError(t, c.Start(id))
	assert.Contains(t, api.calls, "create")

	state, err := c.State(id)
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, state)
}

func TestStartFromPausedResumes(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api)
	id := types.NewID()
	api.define(id, libvirt.DomainPaused)

	require.NoError(t, c.Start(id))
	assert.Contains(t, api.calls, "resume")
	assert.NotContains(t, api.calls, "create")
}

func TestStartRunningIsNoOp(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api)
	id := types.NewID()
	api.define(id, libvirt.DomainRunning)

	require.NoError(t, c.Start(id))
	assert.Empty(t, api.calls)
}

func TestStartShuttingDownFails(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api)
	id := types.NewID()
	api.define(id, libvirt.DomainShutdown)

	err := c.Start(id)
	require.Error(t, err)
	assert.Equal(t, verr.KindPrecondition, verr.KindOf(err))
}

func TestStartUndefinedFails(t *testing.T) {
	c := NewWithAPI(newFakeAPI())

	err := c.Start(types.NewID())
	require.Error(t, err)
	assert.Equal(t, verr.KindPrecondition, verr.KindOf(err))
}

func TestUndefineRunningDestroysFirst(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api)
	id := types.NewID()
	api.define(id, libvirt.DomainRunning)

	require.NoError(t, c.Undefine(id))
	assert.Equal(t, []string{"destroy", "undefine"}, api.calls)
}

func TestUndefineStoppedSkipsDestroy(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api)
	id := types.NewID()
	api.define(id, libvirt.DomainShutoff)

	require.NoError(t, c.Undefine(id))
	assert.Equal(t, []string{"undefine"}, api.calls)
}

func TestUndefineIdempotent(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api)
	id := types.NewID()
	api.define(id, libvirt.DomainShutoff)

	require.NoError(t, c.Undefine(id))
	// Repeated undefine on an undefined domain succeeds.
	require.NoError(t, c.Undefine(id))
	require.NoError(t, c.Undefine(types.NewID()))
}
