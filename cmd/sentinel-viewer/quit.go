package main

import (
	"context"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/sentinelcore/sentinel-stream/pkg/viewer"
)

// quitOnSignal ends the game loop once ctx is cancelled.
type quitOnSignal struct {
	*viewer.Engine
	ctx context.Context
}

func (q *quitOnSignal) Update() error {
	if q.ctx.Err() != nil {
		return ebiten.Termination
	}
	return q.Engine.Update()
}
