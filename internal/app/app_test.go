package app

import (
	"context"
	"testing"

	"github.com/madcarpet/lessonadmin/internal/config"
	"github.com/stretchr/testify/assert"
)

func Test_App_StartBeforeInit(t *testing.T) {
	t.Parallel()

	a := NewApp(config.Config{RunAddress: "localhost:0"})
	assert.ErrorIs(t, a.Start(), errNotInitialized)
}

func Test_App_StopWithoutInit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	a := NewApp(config.Config{})
	assert.NotPanics(t, func() { a.Stop(cancel) })
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
