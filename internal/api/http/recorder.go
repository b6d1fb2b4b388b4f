package http

import (
	"context"
	"fmt"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// egressAPI is the slice of the LiveKit egress client the recorder uses.
type egressAPI interface {
	StartTrackEgress(ctx context.Context, req *livekit.TrackEgressRequest) (*livekit.EgressInfo, error)
	StopEgress(ctx context.Context, req *livekit.StopEgressRequest) (*livekit.EgressInfo, error)
}

// Recorder starts and stops per-track recordings through LiveKit egress.
type Recorder struct {
	client egressAPI
	now    func() time.Time
}

// NewRecorder builds a recorder against the LiveKit server.
func NewRecorder(url, apiKey, apiSecret string) *Recorder {
	return &Recorder{
		client: lksdk.NewEgressClient(url, apiKey, apiSecret),
		now:    time.Now,
	}
}

// Start begins recording one track to a WAV file. Returns the egress id the
// caller needs for Stop.
func (r *Recorder) Start(ctx context.Context, room, trackID, identity string) (string, error) {
	filepath := fmt.Sprintf("recordings/%s_%s_%s_%d.wav", room, identity, trackID, r.now().UnixMilli())
	info, err := r.client.StartTrackEgress(ctx, &livekit.TrackEgressRequest{
		RoomName: room,
		TrackId:  trackID,
		Output: &livekit.TrackEgressRequest_File{
			File: &livekit.DirectFileOutput{
				Filepath: filepath,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("start track egress: %w", err)
	}
	return info.EgressId, nil
}

// Stop ends a recording previously started with Start.
func (r *Recorder) Stop(ctx context.Context, egressID string) error {
	_, err := r.client.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: egressID})
	if err != nil {
		return fmt.Errorf("stop egress: %w", err)
	}
	return nil
}
