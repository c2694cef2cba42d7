package lens

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/autofocus/internal/af"
)

func TestCapabilityLine(t *testing.T) {
	c := af.Capability{Supported: true, Range: af.FocusRange{Min: 10, Max: 900}, Position: 455}
	line := FormatCapability(c)
	assert.Equal(t, "CAP 1 10 900 455", line)

	got, err := ParseCapability(line)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	for _, bad := range []string{"", "CAP 1 2 3", "CAP x 0 10 5", "OK 5", "CAP 1 0 10 5 9"} {
		_, err := ParseCapability(bad)
		assert.Error(t, err, bad)
	}
}

func TestPositionAndAck(t *testing.T) {
	pos, err := ParsePosition(FormatPosition(-12))
	require.NoError(t, err)
	assert.Equal(t, -12, pos)

	_, err = ParsePosition("POS")
	assert.Error(t, err)
	_, err = ParsePosition("MOVE 3")
	assert.Error(t, err)

	pos, err = ParseAck(FormatAck(77))
	require.NoError(t, err)
	assert.Equal(t, 77, pos)
	_, err = ParseAck("OK")
	assert.Error(t, err)
}

func TestClassifyLine(t *testing.T) {
	tests := map[string]string{
		"CAP 1 0 10 0":    LineCapability,
		"OK 3":            LineAck,
		"  ERR no motor ": LineError,
		"hello":           LineUnknown,
		"":                LineUnknown,
	}
	for line, want := range tests {
		assert.Equal(t, want, ClassifyLine(line), line)
	}
}

func TestPortOptionsNormalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	for _, bad := range []PortOptions{
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 57600, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: 57600,
		DataBits: 8,
		StopBits: serial.TwoStopBits,
		Parity:   serial.OddParity,
	}, mode)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	_, err = PortOptions{DataBits: 4}.SerialMode()
	assert.Error(t, err)
}

func TestSimulatedPort_PartialLines(t *testing.T) {
	p := NewSimulatedPort(af.FocusRange{Min: 0, Max: 50}, 0)
	_, err := p.Write([]byte("PO"))
	require.NoError(t, err)
	assert.Empty(t, p.Commands())

	_, err = p.Write([]byte("S 20\nCAP?\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"POS 20", "CAP?"}, p.Commands())
	assert.Equal(t, 20, p.Position())

	buf := make([]byte, 128)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "OK 20\nCAP 1 0 50 20\n", string(buf[:n]))

	require.NoError(t, p.Close())
	_, err = p.Read(buf)
	assert.Error(t, err)
	_, err = p.Write([]byte("CAP?\n"))
	assert.Error(t, err)
}

func TestSimulatedPort_FixedFocusRejectsMoves(t *testing.T) {
	p := NewFixedFocusPort()
	_, err := p.Write([]byte("POS 3\nPOS x\n"))
	require.NoError(t, err)
	buf := make([]byte, 128)
	n, _ := p.Read(buf)
	assert.Equal(t, "ERR no actuator\nERR bad position\n", string(buf[:n]))
	assert.Zero(t, p.Moves())
}

func TestScene(t *testing.T) {
	s := NewScene(500, 100, 0, 1)
	assert.InDelta(t, s.Floor+s.Peak, s.Sharpness(500), 1e-9)
	assert.Less(t, s.Sharpness(300), s.Sharpness(450))

	m := s.Measure(3, 500)
	assert.Equal(t, uint64(3), m.Frame)
	assert.Equal(t, uint32(4200), m.Windows[0].Sharpness)
	assert.Greater(t, m.Windows[0].Sharpness, m.Windows[1].Sharpness)
	assert.Greater(t, m.Windows[1].Sharpness, m.Windows[2].Sharpness)
	assert.Equal(t, s.Pixels, m.Windows[2].PixelCount)

	sample := af.DefaultIngress().Sample(m)
	require.True(t, sample.Valid)
	assert.InDelta(t, s.Luminance, sample.Luminance, 1e-9)

	s.MoveTo(200)
	assert.InDelta(t, s.Floor+s.Peak, s.Sharpness(200), 1e-9)
}

func TestSceneNoiseIsSeeded(t *testing.T) {
	a := NewScene(500, 100, 0.05, 42)
	b := NewScene(500, 100, 0.05, 42)
	var diff float64
	for frame := uint64(0); frame < 20; frame++ {
		ma, mb := a.Measure(frame, 480), b.Measure(frame, 480)
		assert.Equal(t, ma, mb)
		diff += math.Abs(float64(ma.Windows[0].Sharpness) - a.Sharpness(480))
	}
	assert.NotZero(t, diff, "noise should perturb the response")
}
