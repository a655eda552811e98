package pipeline

import (
	"os"

	"github.com/schollz/progressbar/v3"
)

func getProgressBar(length int64, desc string, visible bool) *progressbar.ProgressBar {
	// CI logs end up with a line per update
	if !visible || os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.Default(length, desc)
}
