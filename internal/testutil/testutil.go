// Package testutil provides shared test fakes: a recording lens actuator,
// synthetic focus curves and local /debug/ requests.
package testutil

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/banshee-data/autofocus/internal/af"
)

// LocalRequest builds a request that tsweb's /debug/ access check accepts.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// ServeDebug runs a local request through mux and returns the recorder.
func ServeDebug(mux http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, LocalRequest(method, path, nil))
	return rec
}

// RecordingLens is an af.Sensor that records every focus command.
type RecordingLens struct {
	mu       sync.Mutex
	capab    af.Capability
	capErr   error
	setErr   error
	commands []int
	blockCh  chan struct{}
}

// NewRecordingLens returns a supported lens over [min, max] resting at min.
func NewRecordingLens(min, max int) *RecordingLens {
	return &RecordingLens{capab: af.Capability{
		Supported: true,
		Range:     af.FocusRange{Min: min, Max: max},
		Position:  min,
	}}
}

// NewUnsupportedLens returns a lens that reports no focus actuator.
func NewUnsupportedLens() *RecordingLens {
	return &RecordingLens{}
}

// SetCapability replaces the reported capability.
func (l *RecordingLens) SetCapability(c af.Capability) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capab = c
}

// SetCapabilityError makes FocusCapability fail with err.
func (l *RecordingLens) SetCapabilityError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capErr = err
}

// SetFocusError makes SetFocus fail with err (the command is still recorded).
func (l *RecordingLens) SetFocusError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setErr = err
}

// BlockSetFocus makes SetFocus wait until the returned function is called.
func (l *RecordingLens) BlockSetFocus() (release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan struct{})
	l.blockCh = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (l *RecordingLens) FocusCapability() (af.Capability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capab, l.capErr
}

func (l *RecordingLens) SetFocus(pos int) error {
	l.mu.Lock()
	l.commands = append(l.commands, pos)
	l.capab.Position = pos
	block, err := l.blockCh, l.setErr
	l.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

// Commands returns a copy of all commanded positions in order.
func (l *RecordingLens) Commands() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.commands...)
}

// Last returns the most recent command, or -1 when none was issued.
func (l *RecordingLens) Last() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.commands) == 0 {
		return -1
	}
	return l.commands[len(l.commands)-1]
}

// Position returns where the lens currently sits.
func (l *RecordingLens) Position() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capab.Position
}

// FocusCurve is a synthetic sharpness response: a Gaussian peak of height
// Peak at Center with the given Width, on top of Floor.
type FocusCurve struct {
	Center float64
	Width  float64
	Peak   float64
	Floor  float64
}

// At returns the sharpness at lens position pos.
func (c FocusCurve) At(pos int) float64 {
	d := (float64(pos) - c.Center) / c.Width
	return c.Floor + c.Peak*math.Exp(-0.5*d*d)
}

// Sample returns a valid sample for pos.
func (c FocusCurve) Sample(pos int) *af.Sample {
	return &af.Sample{Sharpness: c.At(pos), Valid: true}
}
