// Command renderdemo drives the render engine with a short note
// pattern and either writes the result to a WAV file or plays it on
// the default audio device.
//
// Usage:
//
//	renderdemo [flags]
//
// Examples:
//
//	renderdemo -out demo.wav
//	renderdemo -seconds 8 -decay 3.5 -grains 25 -shimmer 0.4 -out lush.wav
//	renderdemo -play
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/cwbudde/algo-render/dsp/core"
	"github.com/cwbudde/algo-render/engine"
)

var (
	flagRate      = flag.Float64("rate", 48000, "sample rate in Hz")
	flagBlock     = flag.Int("block", 128, "render block size in frames")
	flagSeconds   = flag.Float64("seconds", 6, "length of the note pattern in seconds")
	flagVoices    = flag.Int("voices", 16, "polyphony hard cap")
	flagDecay     = flag.Float64("decay", 2.5, "reverb decay time in seconds")
	flagPreDelay  = flag.Float64("predelay", 0.02, "reverb pre-delay in seconds")
	flagWet       = flag.Float64("wet", 0.35, "reverb wet level")
	flagGrains    = flag.Float64("grains", 15, "grain triggers per second")
	flagGrainSize = flag.Float64("grainsize", 0.09, "grain size in seconds")
	flagShimmer   = flag.Float64("shimmer", 0.3, "grain pitch jitter amount")
	flagGranWet   = flag.Float64("granwet", 0.4, "granular wet level")
	flagSeed      = flag.Int64("seed", 1, "random seed for the granular stage")
	flagOut       = flag.String("out", "renderdemo.wav", "output WAV path")
	flagPlay      = flag.Bool("play", false, "play on the default audio device instead of writing a file")
)

// scheduledEvent pairs a note event with the frame it becomes due.
type scheduledEvent struct {
	frame int
	event engine.NoteEvent
}

// pattern builds a slow minor-pentatonic arpeggio covering seconds of
// audio, each note held for 0.4s.
func pattern(sampleRate, seconds float64) []scheduledEvent {
	degrees := []int{57, 60, 62, 64, 67, 69, 72, 76}

	var events []scheduledEvent
	step := 0.25
	for i := 0; float64(i)*step < seconds; i++ {
		pitch := degrees[i%len(degrees)]
		on := float64(i) * step
		events = append(events,
			scheduledEvent{
				frame: int(on * sampleRate),
				event: engine.NoteEvent{Kind: engine.EventNoteOn, Pitch: pitch, Velocity: 0.7},
			},
			scheduledEvent{
				frame: int((on + 0.4) * sampleRate),
				event: engine.NoteEvent{Kind: engine.EventNoteOff, Pitch: pitch},
			})
	}
	return events
}

// feeder hands scheduled events to the engine as rendering advances.
type feeder struct {
	eng    *engine.Engine
	events []scheduledEvent
	next   int
}

func (f *feeder) advance(throughFrame int) {
	for f.next < len(f.events) && f.events[f.next].frame <= throughFrame {
		f.eng.SendNote(f.events[f.next].event)
		f.next++
	}
}

func main() {
	flag.Parse()

	eng, err := engine.New(
		engine.WithSampleRate(*flagRate),
		engine.WithBlockSize(*flagBlock),
		engine.WithMaxVoices(*flagVoices),
		engine.WithSeed(*flagSeed),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "renderdemo:", err)
		os.Exit(1)
	}

	eng.SetReverb(engine.ReverbParams{
		DecaySeconds:    *flagDecay,
		PreDelaySeconds: *flagPreDelay,
		WetLevel:        *flagWet,
		DryLevel:        1,
	})
	eng.SetGranular(engine.GranularParams{
		GrainSizeSeconds: *flagGrainSize,
		GrainsPerSecond:  *flagGrains,
		ShimmerAmount:    *flagShimmer,
		WetLevel:         *flagGranWet,
	})

	// Let the reverb tail ring out past the last note.
	totalFrames := int((*flagSeconds + *flagDecay) * *flagRate)
	f := &feeder{eng: eng, events: pattern(*flagRate, *flagSeconds)}

	if *flagPlay {
		err = playLive(eng, f, totalFrames)
	} else {
		err = renderFile(eng, f, totalFrames, *flagOut)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "renderdemo:", err)
		os.Exit(1)
	}

	if st, ok := eng.Status(); ok {
		fmt.Printf("voices %d/%d  quality %s  load %.3f  peak %.1f dBFS  misses %d  stolen %d  dropped grains %d\n",
			st.ActiveVoices, st.MaxVoices, st.Quality, st.LoadRatio,
			core.LinearToDB(st.PeakLevel),
			st.DeadlineMisses, st.StolenVoices, st.DroppedGrains)
	}
}

func renderFile(eng *engine.Engine, f *feeder, totalFrames int, path string) error {
	block := eng.BlockSize()
	out := [][]float32{make([]float32, block), make([]float32, block)}
	data := make([]int, 0, 2*totalFrames)

	for rendered := 0; rendered < totalFrames; rendered += block {
		f.advance(rendered)
		eng.Render(nil, out)

		n := block
		if remaining := totalFrames - rendered; remaining < n {
			n = remaining
		}
		for i := 0; i < n; i++ {
			data = append(data, pcm16(out[0][i]), pcm16(out[1][i]))
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := wav.NewEncoder(file, int(eng.SampleRate()), 16, 2, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 2,
			SampleRate:  int(eng.SampleRate()),
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	fmt.Printf("wrote %s (%.1fs at %.0f Hz)\n", path,
		float64(totalFrames)/eng.SampleRate(), eng.SampleRate())
	return nil
}

func playLive(eng *engine.Engine, f *feeder, totalFrames int) error {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(eng.SampleRate()),
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return err
	}
	<-ready

	src := &renderReader{eng: eng, feed: f, totalFrames: totalFrames}
	player := ctx.NewPlayer(src)
	player.Play()
	for player.IsPlaying() {
		time.Sleep(50 * time.Millisecond)
	}
	return player.Close()
}

// renderReader renders on demand for the audio device: each Read pulls
// freshly rendered stereo float32 frames.
type renderReader struct {
	eng         *engine.Engine
	feed        *feeder
	totalFrames int
	rendered    int
	scratch     [][]float32
}

func (r *renderReader) Read(p []byte) (int, error) {
	const bytesPerFrame = 8 // two float32 channels

	if r.rendered >= r.totalFrames {
		return 0, io.EOF
	}

	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if remaining := r.totalFrames - r.rendered; frames > remaining {
		frames = remaining
	}

	if len(r.scratch) == 0 || len(r.scratch[0]) < frames {
		r.scratch = [][]float32{make([]float32, frames), make([]float32, frames)}
	}
	out := [][]float32{r.scratch[0][:frames], r.scratch[1][:frames]}

	r.feed.advance(r.rendered)
	r.eng.Render(nil, out)
	r.rendered += frames

	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(p[i*bytesPerFrame:], math.Float32bits(out[0][i]))
		binary.LittleEndian.PutUint32(p[i*bytesPerFrame+4:], math.Float32bits(out[1][i]))
	}
	return frames * bytesPerFrame, nil
}

func pcm16(v float32) int {
	scaled := float64(v) * 32767
	if scaled > 32767 {
		scaled = 32767
	}
	if scaled < -32768 {
		scaled = -32768
	}
	return int(scaled)
}
