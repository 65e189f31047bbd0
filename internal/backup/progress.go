package backup

import (
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressReader feeds an mpb bar while passing reads through.
type progressReader struct {
	r   io.Reader
	bar *mpb.Bar
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.bar != nil {
		pr.bar.IncrBy(n)
	}
	return n, err
}

// NewProgressContainer builds the bar container used by interactive runs.
func NewProgressContainer() *mpb.Progress {
	return mpb.New(mpb.WithWidth(64))
}

func addTransferBar(p *mpb.Progress, name string) *mpb.Bar {
	if p == nil {
		return nil
	}
	return p.AddBar(0, // indeterminate
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1}),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Name(" [done]"), " [done]"),
		),
	)
}

// wrapProgress attaches a transfer bar to r when a container is configured.
func (e *Engine) wrapProgress(r io.Reader, name string) io.Reader {
	if e.progress == nil {
		return r
	}
	return &progressReader{r: r, bar: addTransferBar(e.progress, name)}
}
