package http

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livekit/protocol/livekit"
)

type fakeEgressAPI struct {
	startReq *livekit.TrackEgressRequest
	stopReq  *livekit.StopEgressRequest
	err      error
}

func (f *fakeEgressAPI) StartTrackEgress(ctx context.Context, req *livekit.TrackEgressRequest) (*livekit.EgressInfo, error) {
	f.startReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &livekit.EgressInfo{EgressId: "EG_789"}, nil
}

func (f *fakeEgressAPI) StopEgress(ctx context.Context, req *livekit.StopEgressRequest) (*livekit.EgressInfo, error) {
	f.stopReq = req
	return nil, f.err
}

func TestRecorderStart_BuildsRequest(t *testing.T) {
	api := &fakeEgressAPI{}
	r := &Recorder{
		client: api,
		now:    func() time.Time { return time.UnixMilli(1714000000000) },
	}

	id, err := r.Start(context.Background(), "aula-1", "TR_1", "alice")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id != "EG_789" {
		t.Errorf("egress id = %q", id)
	}
	if api.startReq.RoomName != "aula-1" || api.startReq.TrackId != "TR_1" {
		t.Errorf("request = %+v", api.startReq)
	}
	file := api.startReq.GetFile()
	if file == nil {
		t.Fatal("request has no file output")
	}
	want := "recordings/aula-1_alice_TR_1_1714000000000.wav"
	if file.Filepath != want {
		t.Errorf("filepath = %q, want %q", file.Filepath, want)
	}
}

func TestRecorderStop(t *testing.T) {
	api := &fakeEgressAPI{}
	r := &Recorder{client: api, now: time.Now}

	if err := r.Stop(context.Background(), "EG_789"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if api.stopReq.EgressId != "EG_789" {
		t.Errorf("stop request = %+v", api.stopReq)
	}

	api.err = errors.New("not found")
	if err := r.Stop(context.Background(), "EG_0"); err == nil {
		t.Error("expected error from failed stop")
	}
}
