package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiptKey(t *testing.T) {
	assert.Equal(t, "receipts/conf-2026/ORD-1.json", ReceiptKey("conf-2026", "ORD-1"))
	// Path segments from callers cannot escape the prefix.
	assert.Equal(t, "receipts/x/y.json", ReceiptKey("../x", "a/../y"))
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{Region: "ap-northeast-2"}, nil)
	require.Error(t, err)
}
