package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background(), "")
	assert.Len(t, id, 32)
	assert.Equal(t, id, FromContext(ctx))

	ctx2, id2 := Ensure(ctx, "")
	assert.Equal(t, id, id2)
	assert.Equal(t, id, FromContext(ctx2))

	_, id3 := Ensure(ctx, "abc")
	assert.Equal(t, "abc", id3)
}

func TestWithContext_Empty(t *testing.T) {
	ctx := WithContext(context.Background(), "")
	assert.Equal(t, "", FromContext(ctx))
	assert.Equal(t, "x", FromContext(WithContext(ctx, "x")))
}
