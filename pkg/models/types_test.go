package models

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostKeyAndAddr(t *testing.T) {
	h := Host{Address: "10.0.0.1", User: "root"}
	assert.Equal(t, "10.0.0.1:22", h.Addr())
	assert.Equal(t, "root@10.0.0.1:22", h.Key())

	h.Port = 2222
	assert.Equal(t, "root@10.0.0.1:2222", h.Key())

	h.ID = "web"
	assert.Equal(t, "web", h.Key())
}

func TestIdentityHidesSecrets(t *testing.T) {
	id := Identity{AuthType: AuthKey, KeyPath: "~/.ssh/id_rsa", Passphrase: "p4ss", Password: "pw"}

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("connect", "identity", id)
	assert.Contains(t, buf.String(), "identity.auth_type=key")
	assert.NotContains(t, buf.String(), "p4ss")
	assert.NotContains(t, buf.String(), "pw")

	assert.Equal(t, "key(~/.ssh/id_rsa)", fmt.Sprint(id))
	assert.Equal(t, "password", fmt.Sprintf("%v", Identity{AuthType: AuthPassword, Password: "pw"}))
}
