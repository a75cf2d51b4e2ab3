// Package machinetest provides a scripted machine.Runner for tests.
package machinetest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xflash-panda/guestaddr/pkg/machine"
)

// MockRunner is a Runner whose answers are registered per machine name and command.
type MockRunner struct {
	mock.Mock
}

var _ machine.Runner = (*MockRunner)(nil)

// Register makes Run return output and err when command is run on the named machine.
func (mr *MockRunner) Register(name, command, output string, err error) *mock.Call {
	return mr.Mock.On("Run", name, command).Return(output, err)
}

// Run implements machine.Runner. A done context fails before the call is recorded.
func (mr *MockRunner) Run(ctx context.Context, m machine.Machine, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	args := mr.Mock.Called(m.Name(), command)
	return args.String(0), args.Error(1)
}
