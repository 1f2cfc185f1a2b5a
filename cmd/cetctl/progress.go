package main

import (
	"io"
	"os"
	"time"

	"github.com/vbauerster/mpb"
	"github.com/vbauerster/mpb/decor"
	"golang.org/x/term"
)

// progress draws a bar when w is a terminal and does nothing otherwise
type progress struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

func newProgress(w io.Writer, name string, total int64) *progress {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return &progress{}
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return &progress{}
	}

	p := mpb.New(mpb.WithWidth(width), mpb.WithOutput(f))
	bar := p.AddBar(total,
		mpb.AppendDecorators(decor.AverageETA(decor.ET_STYLE_GO)),
		mpb.PrependDecorators(decor.Name(name)),
		mpb.PrependDecorators(decor.CountersNoUnit("%d/%d", decor.WCSyncSpace)),
		mpb.BarRemoveOnComplete(),
	)
	return &progress{p: p, bar: bar}
}

func (pr *progress) incr(n int, elapsed time.Duration) {
	if pr.bar != nil {
		pr.bar.IncrBy(n, elapsed)
	}
}

// wait blocks until the bar has rendered its final state
func (pr *progress) wait() {
	if pr.p != nil {
		pr.p.Wait()
	}
}

// abort leaves the bar unfinished; the process is about to exit
func (pr *progress) abort() {
	pr.p, pr.bar = nil, nil
}
