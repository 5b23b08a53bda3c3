package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		input string
		user  string
		host  string
		port  uint16
	}{
		{"root@10.0.0.1:2222", "root", "10.0.0.1", 2222},
		{"root@10.0.0.1", "root", "10.0.0.1", 0},
		{"web1", "", "web1", 0},
		{"web1:bad", "", "web1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			u, h, p := ParseAddr(tt.input)
			assert.Equal(t, tt.user, u)
			assert.Equal(t, tt.host, h)
			assert.Equal(t, tt.port, p)
		})
	}
}

func TestSplitRemote(t *testing.T) {
	tests := []struct {
		input  string
		target string
		path   string
	}{
		{"root@web1:/data/a.bin", "root@web1", "/data/a.bin"},
		{"root@web1:2222:/data/a.bin", "root@web1:2222", "/data/a.bin"},
		{"web1:backups/", "web1", "backups/"},
		{"web1:", "web1", "."},
		{"web1:22:", "web1:22", "."},
		{"web1:/a:b", "web1", "/a:b"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			target, path, err := SplitRemote(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.target, target)
			assert.Equal(t, tt.path, path)
		})
	}

	_, _, err := SplitRemote("/local/file")
	require.Error(t, err)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("web1:/data"))
	assert.True(t, IsRemote("root@web1:22:/data"))
	assert.False(t, IsRemote("/data/file"))
	assert.False(t, IsRemote("./a:b"))
	assert.False(t, IsRemote("file.txt"))
	assert.False(t, IsRemote(":/data"))
}
