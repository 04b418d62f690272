package whispercpp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zlib"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/sirupsen/logrus"
)

const stderrTailLines = 20

var (
	languageLine = regexp.MustCompile(`auto-detected language: (\w+) \(p = ([0-9.]+)\)`)
	segmentLine  = regexp.MustCompile(`^\[(\d+):(\d{2}):(\d{2})[.,](\d{3}) --> (\d+):(\d{2}):(\d{2})[.,](\d{3})\]\s*(.*)$`)
)

type detectedLanguage struct {
	code string
	prob float64
}

// run is one whisper-cli process. Segments stream from stdout; with word
// timestamps they are read from the json file written on exit.
type run struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stdout   io.ReadCloser
	params   *stt.TranscriptionParams
	duration float64
	jsonPath string
	logger   *logrus.Entry

	lang       chan detectedLanguage
	stderrDone chan struct{}
	tailMu     sync.Mutex
	tail       []string

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

func startRun(ctx context.Context, binary string, args []string, r *run) error {
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return err
	}
	if err = cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting %s: %w", binary, err)
	}

	r.cmd = cmd
	r.cancel = cancel
	r.stdout = stdout
	r.lang = make(chan detectedLanguage, 1)
	r.stderrDone = make(chan struct{})
	go r.scanStderr(stderr)
	return nil
}

func (r *run) scanStderr(stderr io.Reader) {
	defer close(r.stderrDone)
	announced := false

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	// an overlong line ends the scan; the pipe is still drained so whisper-cli never blocks on it
	defer func() {
		if scanner.Err() != nil {
			_, _ = io.Copy(io.Discard, stderr)
		}
	}()
	for scanner.Scan() {
		line := scanner.Text()
		if !announced {
			if m := languageLine.FindStringSubmatch(line); m != nil {
				prob, _ := strconv.ParseFloat(m[2], 64)
				r.lang <- detectedLanguage{code: m[1], prob: prob}
				announced = true
			}
		}
		r.tailMu.Lock()
		r.tail = append(r.tail, line)
		if len(r.tail) > stderrTailLines {
			r.tail = r.tail[1:]
		}
		r.tailMu.Unlock()
	}
}

func (r *run) stderrTail() string {
	r.tailMu.Lock()
	defer r.tailMu.Unlock()
	return strings.Join(r.tail, "\n")
}

func (r *run) Info(ctx context.Context) (*stt.Info, error) {
	info := &stt.Info{
		Duration:         r.duration,
		DurationAfterVAD: r.duration,
	}
	if r.params.Language != nil && *r.params.Language != "" {
		info.Language = *r.params.Language
		info.LanguageProbability = 1
		return info, nil
	}

	select {
	case d := <-r.lang:
		info.Language, info.LanguageProbability = d.code, d.prob
	case <-r.stderrDone:
		// the process may have announced the language just before exiting
		select {
		case d := <-r.lang:
			info.Language, info.LanguageProbability = d.code, d.prob
		default:
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if info.Language != "" {
		info.AllLanguageProbs = []stt.LanguageProb{{Language: info.Language, Probability: info.LanguageProbability}}
	}
	return info, nil
}

func (r *run) Segments(ctx context.Context) iter.Seq2[*stt.Segment, error] {
	return func(yield func(*stt.Segment, error) bool) {
		if r.jsonPath != "" {
			r.jsonSegments(ctx, yield)
			return
		}

		scanner := bufio.NewScanner(r.stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		id := 0
		for scanner.Scan() {
			seg, ok := parseSegmentLine(scanner.Text())
			if !ok {
				continue
			}
			id++
			r.fillSegment(seg, id)
			if !yield(seg, nil) {
				return
			}
		}
		if err := r.finish(ctx, scanner.Err()); err != nil {
			yield(nil, err)
		}
	}
}

func (r *run) jsonSegments(ctx context.Context, yield func(*stt.Segment, error) bool) {
	_, copyErr := io.Copy(io.Discard, r.stdout)
	if err := r.finish(ctx, copyErr); err != nil {
		yield(nil, err)
		return
	}

	raw, err := os.ReadFile(r.jsonPath)
	if err != nil {
		yield(nil, fmt.Errorf("reading whisper-cli output: %w", err))
		return
	}
	segs, err := parseJSONOutput(raw)
	if err != nil {
		yield(nil, err)
		return
	}
	for i, seg := range segs {
		r.fillSegment(seg, i+1)
		if !yield(seg, nil) {
			return
		}
	}
}

func (r *run) fillSegment(seg *stt.Segment, id int) {
	seg.ID = id
	seg.Seek = int(seg.Start * 100)
	if len(r.params.Temperature) > 0 {
		seg.Temperature = r.params.Temperature[0]
	}
	seg.CompressionRatio = compressionRatio(seg.Text)
	if seg.Tokens == nil {
		seg.Tokens = []int{}
	}
}

func (r *run) finish(ctx context.Context, readErr error) error {
	waitErr := r.wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	if readErr != nil {
		return fmt.Errorf("reading whisper-cli output: %w", readErr)
	}
	if waitErr != nil {
		tail := r.stderrTail()
		if tail == "" {
			return fmt.Errorf("whisper-cli failed: %w", waitErr)
		}
		return fmt.Errorf("whisper-cli failed: %w: %s", waitErr, tail)
	}
	return nil
}

// wait reaps the process once stderr is drained.
func (r *run) wait() error {
	r.waitOnce.Do(func() {
		<-r.stderrDone
		r.waitErr = r.cmd.Wait()
	})
	return r.waitErr
}

func (r *run) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		waitErr := r.wait()
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			r.logger.Debugf("whisper-cli wait: %s", waitErr)
		}
		if r.jsonPath != "" {
			if rmErr := os.Remove(r.jsonPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				err = rmErr
			}
		}
	})
	return err
}

func parseSegmentLine(line string) (*stt.Segment, bool) {
	m := segmentLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, false
	}
	return &stt.Segment{
		Start: clockSeconds(m[1:5]),
		End:   clockSeconds(m[5:9]),
		Text:  " " + strings.TrimSpace(m[9]),
	}, true
}

func clockSeconds(parts []string) float64 {
	var v [4]int
	for i, p := range parts {
		v[i], _ = strconv.Atoi(p)
	}
	return float64(v[0]*3600+v[1]*60+v[2]) + float64(v[3])/1000
}

type cliOffsets struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type cliOutput struct {
	Transcription []struct {
		Offsets cliOffsets `json:"offsets"`
		Text    string     `json:"text"`
		Tokens  []struct {
			Text    string     `json:"text"`
			Offsets cliOffsets `json:"offsets"`
			ID      int        `json:"id"`
			P       float64    `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") && strings.HasSuffix(text, "]")
}

// parseJSONOutput reads the -ojf file. Word boundaries are the tokens that
// start with a space.
func parseJSONOutput(raw []byte) ([]*stt.Segment, error) {
	var out cliOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding whisper-cli json: %w", err)
	}

	segs := make([]*stt.Segment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		seg := &stt.Segment{
			Start:  float64(t.Offsets.From) / 1000,
			End:    float64(t.Offsets.To) / 1000,
			Text:   " " + strings.TrimSpace(t.Text),
			Tokens: []int{},
			Words:  []stt.Word{},
		}

		var (
			logSum  float64
			counted int
			probs   []float64
		)
		flush := func() {
			if len(probs) == 0 {
				return
			}
			var sum float64
			for _, p := range probs {
				sum += p
			}
			seg.Words[len(seg.Words)-1].Probability = sum / float64(len(probs))
			probs = probs[:0]
		}

		for _, tok := range t.Tokens {
			if isSpecialToken(tok.Text) || tok.Text == "" {
				continue
			}
			seg.Tokens = append(seg.Tokens, tok.ID)
			if tok.P > 0 {
				logSum += math.Log(tok.P)
				counted++
			}

			start := float64(tok.Offsets.From) / 1000
			end := float64(tok.Offsets.To) / 1000
			if len(seg.Words) == 0 || strings.HasPrefix(tok.Text, " ") {
				flush()
				seg.Words = append(seg.Words, stt.Word{Start: start, End: end, Word: tok.Text})
			} else {
				w := &seg.Words[len(seg.Words)-1]
				w.Word += tok.Text
				w.End = end
			}
			probs = append(probs, tok.P)
		}
		flush()
		if counted > 0 {
			seg.AvgLogprob = logSum / float64(counted)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// compressionRatio is the zlib ratio whisper uses to spot looping output.
func compressionRatio(text string) float64 {
	b := []byte(text)
	if len(b) == 0 {
		return 0
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(b)
	_ = zw.Close()
	return float64(len(b)) / float64(buf.Len())
}
