package main

import (
	"bytes"
	"strings"
	"testing"

	"rewards-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordFromStdin(t *testing.T) {
	cmd := HashPasswordCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("open sesame\n"))
	cmd.SetArgs([]string{"--password-stdin", "--cost", "4"})

	require.NoError(t, cmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("open sesame")))
}

func TestHashPasswordRequiresPassword(t *testing.T) {
	cmd := HashPasswordCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	assert.Error(t, cmd.Execute())
}

func TestBulkPointsRejectsUnknownType(t *testing.T) {
	cmd := BulkPointsCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--type", "robots", "--delta", "5", "--password", "x"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid account type")
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	emit := progressPrinter(&out)

	emit(service.BulkProgress{JobID: "j1", TotalRecords: 120, TotalChunks: 3})
	emit(service.BulkProgress{JobID: "j1", CurrentChunk: 1, TotalChunks: 3, SuccessCount: 49, FailedCount: 1})

	assert.Equal(t, "Job j1: 120 accounts in 3 chunks\nchunk 1/3 49/1\n", out.String())
}
