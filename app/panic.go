package app

import (
	"strings"

	"github.com/hashicorp/go-hclog"

	"oro/oroos/kernel"
)

func installPanicHandler(k *kernel.Kernel, log hclog.Logger) {
	k.SetPanicHandler(func(info kernel.PanicInfo) {
		log.Error("Oro panic", "core", info.CoreID, "thread", hclog.Fmt("%#x", info.ThreadID), "panic", info.Value)
		for _, line := range strings.Split(string(info.Stack), "\n") {
			if line == "" {
				continue
			}
			log.Error(line)
		}
	})
}
