package logging

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "secret is redacted", input: "JBSWY3DPEHPK3PXP"},
		{name: "empty secret is still redacted", input: ""},
		{name: "password is redacted", input: "password123!@#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, "[REDACTED]", Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", Secret(tt.input)))
		})
	}
}

func TestLogger_RedactsSecretsAtEveryLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)
	secret := "JBSWY3DPEHPK3PXP"

	logger.Info("info %s", Secret(secret))
	logger.Warn("warn %s", Secret(secret))
	logger.Error("error %v", Secret(secret))
	logger.Debug("debug %s", Secret(secret))

	out := buf.String()
	assert.NotContains(t, out, secret)
	assert.Equal(t, 4, strings.Count(out, "[REDACTED]"))
}

func TestLogger_DebugSuppressed(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "✓ shown")
	assert.False(t, logger.DebugEnabled())
}

func TestLogger_NoColor(t *testing.T) {
	t.Parallel()

	var plain, colored bytes.Buffer
	NewWithWriter(&plain, false, true).Error("boom")
	NewWithWriter(&colored, false, false).Error("boom")

	assert.Equal(t, "✗ boom\n", plain.String())
	assert.Contains(t, colored.String(), "\033[31m")
}

func TestLogger_Named(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true).Named("sync").Named("probe")

	logger.Info("found %d zones", 2)

	assert.Equal(t, "✓ [sync.probe] found 2 zones\n", buf.String())
}

func TestLogger_ConcurrentWritesDoNotInterleave(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	root := NewWithWriter(&buf, false, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			root.Named("worker").Info("line %d", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 20)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "✓ [worker] line "), line)
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		Discard().Info("nothing")
		Discard().Named("x").Error("nothing")
	})
}

func TestRedactFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "decrypted JBSWY3DPEHPK3PXP",
			secrets:  []string{"JBSWY3DPEHPK3PXP"},
			expected: "decrypted [REDACTED]",
		},
		{
			name:     "multiple secrets redacted",
			input:    "password hunter22 for service ABCDEFGH",
			secrets:  []string{"hunter22", "ABCDEFGH"},
			expected: "password [REDACTED] for service [REDACTED]",
		},
		{
			name:     "empty secret ignored",
			input:    "nothing to hide",
			secrets:  []string{""},
			expected: "nothing to hide",
		},
		{
			name:     "short secret ignored",
			input:    "Short secret: ab",
			secrets:  []string{"ab"},
			expected: "Short secret: ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Redact(tt.input, tt.secrets))
		})
	}
}
