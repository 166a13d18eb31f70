package cli

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pisa-watch/pisa/internal/appointment"
	"github.com/pisa-watch/pisa/internal/pipeline"
)

type fakeService struct {
	startErr  error
	started   bool
	closed    bool
	health    pipeline.Health
	healthErr error

	registered  []appointment.Request
	registerErr error
	canceled    []appointment.ID
	cancelErr   error
}

func (f *fakeService) Start(context.Context) error {
	f.started = true
	return f.startErr
}

func (f *fakeService) Close() { f.closed = true }

func (f *fakeService) RegisterAppointment(req appointment.Request) error {
	f.registered = append(f.registered, req)
	return f.registerErr
}

func (f *fakeService) CancelAppointment(id appointment.ID) error {
	f.canceled = append(f.canceled, id)
	return f.cancelErr
}

func (f *fakeService) Health(context.Context) (pipeline.Health, error) {
	return f.health, f.healthErr
}

func withArgs(t *testing.T, args []string, fn func()) {
	t.Helper()
	original := os.Args
	os.Args = args
	defer func() { os.Args = original }()
	fn()
}

func TestRun_Help_ListsCommandsWithoutError(t *testing.T) {
	svc := &fakeService{}
	withArgs(t, []string{"pisa", "--help"}, func() {
		assert.NoError(t, Run(t.Context(), svc))
	})
}

func TestRun_Start_PropagatesServiceError(t *testing.T) {
	svc := &fakeService{startErr: assert.AnError}
	withArgs(t, []string{"pisa", "start"}, func() {
		err := Run(t.Context(), svc)
		assert.ErrorIs(t, err, assert.AnError)
	})
	assert.True(t, svc.started)
}

func TestRun_Health_PrintsProbeAndExits(t *testing.T) {
	svc := &fakeService{health: pipeline.Health{HeadNumber: 42, QueueDepth: 3, MinedNonce: 7}}
	withArgs(t, []string{"pisa", "health"}, func() {
		assert.NoError(t, Run(t.Context(), svc))
	})
}

func TestRun_Register_ParsesFlagsAndCallsService(t *testing.T) {
	svc := &fakeService{}
	withArgs(t, []string{
		"pisa", "register",
		"--id", "app1",
		"--chain-id", "1",
		"--to", "0xcontract",
		"--value", "0x0",
		"--gas-limit", "21000",
		"--end-block", "200",
		"--confirmations", "6",
	}, func() {
		require.NoError(t, Run(t.Context(), svc))
	})

	require.Len(t, svc.registered, 1)
	req := svc.registered[0]
	assert.Equal(t, appointment.ID("app1"), req.AppointmentID)
	assert.Equal(t, uint64(1), req.Identifier.ChainID)
	assert.Equal(t, "0xcontract", req.Identifier.To)
	assert.Equal(t, uint64(21000), req.Identifier.GasLimit)
	assert.Equal(t, uint64(6), req.ConfirmationsRequired)
}

func TestRun_Register_MissingRequiredFlag_ReturnsError(t *testing.T) {
	svc := &fakeService{}
	withArgs(t, []string{"pisa", "register", "--id", "app1"}, func() {
		assert.Error(t, Run(t.Context(), svc))
	})
}

func TestRun_Cancel_CallsService(t *testing.T) {
	svc := &fakeService{}
	withArgs(t, []string{"pisa", "cancel", "--id", "app1"}, func() {
		require.NoError(t, Run(t.Context(), svc))
	})
	assert.Equal(t, []appointment.ID{"app1"}, svc.canceled)
}

func TestRun_Cancel_PropagatesNotFound(t *testing.T) {
	svc := &fakeService{cancelErr: pipeline.ErrNotFound}
	withArgs(t, []string{"pisa", "cancel", "--id", "missing"}, func() {
		err := Run(t.Context(), svc)
		assert.ErrorIs(t, err, pipeline.ErrNotFound)
	})
}
