package app

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// newTransferBar builds the byte-count progress bar for one transfer. A
// hidden bar still accepts updates so the transfer path stays uniform.
func newTransferBar(w io.Writer, size int64, hide bool) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetVisibility(!hide),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription("receiving"),
		progressbar.OptionOnCompletion(func() {
			if !hide {
				fmt.Fprintln(w)
			}
		}),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
