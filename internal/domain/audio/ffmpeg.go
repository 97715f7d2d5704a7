package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	platformerrors "cosyvoice-gateway/internal/platform/errors"
)

// ffmpegArgs builds the transcode invocation: raw s16le PCM on stdin,
// encoded audio on stdout.
func ffmpegArgs(info PCMInfo, f Format) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(info.SampleRate),
		"-ac", strconv.Itoa(info.Channels),
		"-i", "pipe:0",
	}
	switch f {
	case FormatMP3:
		args = append(args, "-codec:a", "libmp3lame", "-b:a", "128k", "-f", "mp3")
	case FormatFLAC:
		args = append(args, "-codec:a", "flac", "-f", "flac")
	case FormatAAC:
		args = append(args, "-codec:a", "aac", "-b:a", "128k", "-f", "adts")
	}
	return append(args, "pipe:1")
}

// transcode runs one buffered ffmpeg pass over the complete PCM payload.
func transcode(ctx context.Context, ffmpegPath string, pcm []byte, info PCMInfo, f Format) ([]byte, error) {
	const op = "audio.transcode"

	cmd := exec.CommandContext(ctx, ffmpegPath, ffmpegArgs(info, f)...)
	cmd.Stdin = bytes.NewReader(pcm)

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindFormat, op,
			fmt.Sprintf("ffmpeg %s encode failed: %s", f, errBuf.String()), err)
	}
	return out.Bytes(), nil
}

// ffmpegStream feeds PCM frames into a long-running ffmpeg process and
// copies encoded output to w as it is produced.
type ffmpegStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	errBuf *bytes.Buffer

	copyDone chan struct{}
	copyErr  error

	closeOnce sync.Once
	closeErr  error
}

func newFFmpegStream(ctx context.Context, ffmpegPath string, w io.Writer, info PCMInfo, f Format) (*ffmpegStream, error) {
	const op = "audio.stream_encoder"

	cmd := exec.CommandContext(ctx, ffmpegPath, ffmpegArgs(info, f)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindFormat, op, "ffmpeg stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindFormat, op, "ffmpeg stdout pipe", err)
	}

	errBuf := &bytes.Buffer{}
	cmd.Stderr = errBuf

	if err := cmd.Start(); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindFormat, op, "start ffmpeg", err)
	}

	s := &ffmpegStream{
		cmd:      cmd,
		stdin:    stdin,
		errBuf:   errBuf,
		copyDone: make(chan struct{}),
	}
	go func() {
		_, s.copyErr = io.Copy(w, stdout)
		close(s.copyDone)
	}()
	return s, nil
}

func (s *ffmpegStream) Write(frame []byte) error {
	_, err := s.stdin.Write(frame)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindFormat, "audio.stream_encoder",
			fmt.Sprintf("ffmpeg write failed: %s", s.errBuf.String()), err)
	}
	return nil
}

func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		<-s.copyDone
		waitErr := s.cmd.Wait()
		if waitErr != nil {
			s.closeErr = platformerrors.Wrap(platformerrors.KindFormat, "audio.stream_encoder",
				fmt.Sprintf("ffmpeg exited with error: %s", s.errBuf.String()), waitErr)
			return
		}
		if s.copyErr != nil {
			s.closeErr = s.copyErr
		}
	})
	return s.closeErr
}
