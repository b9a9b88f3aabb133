package app

import (
	"context"
	"sync"

	"github.com/lvcoi/clipfetch/internal/downloader"
)

// Result is the outcome of one URL in a batch.
type Result struct {
	URL      string              `json:"url"`
	Artifact downloader.Artifact `json:"artifact"`
	Path     string              `json:"path,omitempty"`
	Err      error               `json:"-"`
	Error    string              `json:"error,omitempty"`
}

// Task processes one URL. Each call runs its own persona chain.
type Task func(ctx context.Context, url string) Result

// Run processes urls with up to jobs concurrent workers. Results keep input
// order. The exit code is the highest ExitCode among failures, or 130 when
// ctx was cancelled before every URL was submitted.
func Run(ctx context.Context, urls []string, jobs int, task Task) ([]Result, int) {
	if jobs < 1 {
		jobs = 1
	}

	type item struct {
		index int
		url   string
	}
	items := make(chan item)
	results := make([]Result, len(urls))
	done := make([]bool, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range items {
				res := task(ctx, it.url)
				res.URL = it.url
				if res.Err != nil {
					res.Error = downloader.UserMessage(res.Err)
				}
				results[it.index] = res
				done[it.index] = true
			}
		}()
	}

	interrupted := false
submit:
	for i, url := range urls {
		select {
		case <-ctx.Done():
			interrupted = true
			break submit
		case items <- item{index: i, url: url}:
		}
	}
	close(items)
	wg.Wait()

	output := make([]Result, 0, len(urls))
	exitCode := 0
	for i, res := range results {
		if !done[i] {
			continue
		}
		output = append(output, res)
		if code := downloader.ExitCode(res.Err); code > exitCode {
			exitCode = code
		}
	}
	if interrupted && exitCode == 0 {
		exitCode = 130
	}
	return output, exitCode
}
