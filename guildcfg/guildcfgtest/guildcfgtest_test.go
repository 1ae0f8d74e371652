package guildcfgtest_test

import (
	"context"
	"testing"

	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/guildcfg/guildcfgtest"
)

func TestMem(t *testing.T) {
	guildcfgtest.Test(context.Background(), t, func(ctx context.Context) guildcfg.Store { return guildcfgtest.NewMem() })
}
