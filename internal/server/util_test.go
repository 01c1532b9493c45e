package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"

	"github.com/loykin/agentdeck/internal/sandbox"
	"github.com/loykin/agentdeck/internal/supervisor"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeBase(c.in), c.in)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("bad: %w", cerrdefs.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("x: %w", sandbox.ErrOutOfBounds), http.StatusForbidden},
		{fmt.Errorf("x: %w", cerrdefs.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", cerrdefs.ErrConflict), http.StatusConflict},
		{fmt.Errorf("x: %w", cerrdefs.ErrFailedPrecondition), http.StatusConflict},
		{fmt.Errorf("x: %w", cerrdefs.ErrAlreadyExists), http.StatusConflict},
		{&supervisor.SpawnError{AgentID: "a", Err: errors.New("exec failed")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}
