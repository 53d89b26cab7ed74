package snapshotpg

import (
	"context"
	"testing"
)

func TestBuildPoolRejectsMalformedURL(t *testing.T) {
	t.Parallel()

	if _, err := BuildPool(context.Background(), "not a database url"); err == nil {
		t.Fatal("expected a parse error for a malformed URL")
	}
}
