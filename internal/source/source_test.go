package source

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gaspardpetit/motionstream/internal/frame"
	"github.com/gaspardpetit/motionstream/internal/hub"
)

type collector struct {
	mu     sync.Mutex
	frames []frame.Frame
	err    error
}

func (c *collector) Publish(f frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestSkeletonFrames(t *testing.T) {
	s := NewSkeleton(33 * time.Millisecond)
	s.Bodies = 2
	frames, err := s.Frames(0)
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	if len(frames) != 2 || frames[0].Topic != frame.TopicMotion || frames[1].Topic != frame.TopicBodyIndex {
		t.Fatalf("unexpected frames %+v", frames)
	}

	env, err := frame.Decode(frames[0].Payload)
	if err != nil {
		t.Fatalf("decode motion: %v", err)
	}
	var motion BodyFrameData
	if err := json.Unmarshal(env.Content, &motion); err != nil {
		t.Fatalf("motion content: %v", err)
	}
	if len(motion.Bodies) != 2 {
		t.Fatalf("bodies = %d; want 2", len(motion.Bodies))
	}
	if n := len(motion.Bodies[0].Joints); n != len(JointTypes) {
		t.Fatalf("joints = %d; want %d", n, len(JointTypes))
	}
	head, foot := motion.Bodies[0].Joints["Head"], motion.Bodies[0].Joints["FootLeft"]
	if head.Position.Y <= foot.Position.Y || head.ScreenPosition.Y >= foot.ScreenPosition.Y {
		t.Fatalf("head %+v not above foot %+v", head, foot)
	}

	env, err = frame.Decode(frames[1].Payload)
	if err != nil {
		t.Fatalf("decode bodyIndex: %v", err)
	}
	var idx struct {
		Description FrameDescription `json:"description"`
		Pixels      []int            `json:"pixels"`
	}
	if err := json.Unmarshal(env.Content, &idx); err != nil {
		t.Fatalf("bodyIndex content: %v", err)
	}
	if len(idx.Pixels) != DepthWidth*DepthHeight || idx.Description.LengthInPixels != len(idx.Pixels) {
		t.Fatalf("pixels = %d; want %d", len(idx.Pixels), DepthWidth*DepthHeight)
	}
	seen := map[int]bool{}
	for _, p := range idx.Pixels {
		seen[p] = true
	}
	if !seen[int(NoBody)] || !seen[0] || !seen[1] {
		t.Fatalf("pixel values %v; want background and both bodies", seen)
	}
}

func TestSkeletonIndexEvery(t *testing.T) {
	s := NewSkeleton(time.Millisecond)
	s.IndexEvery = 3
	for n, want := range []int{2, 1, 1, 2} {
		frames, err := s.Frames(uint64(n))
		if err != nil {
			t.Fatalf("frames(%d): %v", n, err)
		}
		if len(frames) != want {
			t.Fatalf("frames(%d) = %d; want %d", n, len(frames), want)
		}
	}
}

func TestPixelsMarshal(t *testing.T) {
	b, err := json.Marshal(Pixels{0, 7, 255})
	if err != nil || string(b) != "[0,7,255]" {
		t.Fatalf("got %s err=%v", b, err)
	}
	b, _ = json.Marshal(struct {
		P Pixels `json:"p"`
	}{})
	if string(b) != `{"p":null}` {
		t.Fatalf("nil pixels %s", b)
	}
}

func TestSkeletonRunStopsOnCancel(t *testing.T) {
	c := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSkeleton(5 * time.Millisecond).Run(ctx, c) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.len() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames published", c.len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.frames[:4] {
		want := frame.TopicMotion
		if i%2 == 1 {
			want = frame.TopicBodyIndex
		}
		if f.Topic != want {
			t.Fatalf("frame %d topic %s; want %s", i, f.Topic, want)
		}
	}
}

func TestSkeletonRejectsZeroInterval(t *testing.T) {
	if err := (&Skeleton{}).Run(context.Background(), &collector{}); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestRunAllStopsOnHubClosed(t *testing.T) {
	c := &collector{err: hub.ErrClosed}
	err := RunAll(context.Background(), c, NewSkeleton(time.Millisecond))
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
}

func TestRunAllReportsFailure(t *testing.T) {
	boom := errors.New("boom")
	c := &collector{err: boom}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := RunAll(ctx, c, NewSkeleton(time.Millisecond), fakeStats(time.Hour))
	if !errors.Is(err, boom) {
		t.Fatalf("RunAll: %v; want boom", err)
	}
}

func fakeStats(interval time.Duration) *HostStats {
	h := NewHostStats(interval)
	h.cpuPercent = func(context.Context) (float64, error) { return 12.5, nil }
	h.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 1000, Used: 250, UsedPercent: 25}, nil
	}
	h.uptime = func(context.Context) (uint64, error) { return 42, nil }
	h.now = func() time.Time { return time.Unix(1700000000, 0) }
	return h
}

func TestHostStatsSample(t *testing.T) {
	st, err := fakeStats(time.Second).Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if st.CPUPercent != 12.5 || st.MemTotal != 1000 || st.MemUsed != 250 || st.MemUsedPercent != 25 || st.UptimeSeconds != 42 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if !st.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("timestamp %v", st.Timestamp)
	}
}

func TestHostStatsRunPublishesSystemFrames(t *testing.T) {
	c := &collector{}
	h := fakeStats(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, c) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no system frames")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	c.mu.Lock()
	f := c.frames[0]
	c.mu.Unlock()
	env, err := frame.Decode(f.Payload)
	if err != nil || env.Type != frame.TopicSystem {
		t.Fatalf("envelope %+v err=%v", env, err)
	}
	var st SystemStats
	if err := json.Unmarshal(env.Content, &st); err != nil || st.MemUsedPercent != 25 {
		t.Fatalf("content %+v err=%v", st, err)
	}
}

func TestHostStatsSkipsFailedSample(t *testing.T) {
	c := &collector{}
	h := fakeStats(5 * time.Millisecond)
	h.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, errors.New("unavailable") }
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.Run(ctx, c); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: %v", err)
	}
	if c.len() != 0 {
		t.Fatalf("published %d frames from failed samples", c.len())
	}
}

func TestHostStatsLiveSample(t *testing.T) {
	st, err := NewHostStats(time.Second).Sample(context.Background())
	if err != nil {
		t.Skipf("host stats unavailable: %v", err)
	}
	if st.MemTotal == 0 || st.CPUCount == 0 {
		t.Fatalf("implausible sample %+v", st)
	}
}
