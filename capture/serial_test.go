package capture

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/soypat/sram512"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineSource(t *testing.T) {
	const stream = "type,start_time,duration,mosi,miso\r\n" +
		"enable,0,,,\r\n" +
		"result,1,1,0x01,0x00\r\n" +
		"garbage row with \"quote\r\n" +
		"result,2,1,0x80,0x00\r\n" +
		"\r\n" +
		"disable,3,,,\r\n"
	ls := LineSource{R: strings.NewReader(stream)}
	dec, err := sram512.NewDecoder(sram512.DecoderConfig{})
	require.NoError(t, err)
	var frames []string
	err = ls.Run(context.Background(), func(ev sram512.Event) {
		if f, ok := dec.Decode(ev); ok {
			frames = append(frames, f.String())
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Write Mode Register", "Mode Page"}, frames)
}

func TestLineSourceNoHeader(t *testing.T) {
	ls := LineSource{R: strings.NewReader("")}
	err := ls.Run(context.Background(), func(sram512.Event) {})
	assert.ErrorIs(t, err, ErrShortCSV)
}

// idleReader behaves like a serial port with a read timeout and no traffic.
type idleReader struct{}

func (idleReader) Read([]byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}

func TestLineSourceCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ls := LineSource{R: idleReader{}}
	err := ls.Run(ctx, func(sram512.Event) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCtxReaderPassesEOF(t *testing.T) {
	cr := ctxReader{ctx: context.Background(), r: strings.NewReader("")}
	_, err := cr.Read(make([]byte, 4))
	assert.Equal(t, io.EOF, err)
}
