package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"focusquest/internal/app"
	"focusquest/internal/notify"
	"focusquest/internal/observe"
	"focusquest/internal/registry"
)

// Stream payloads. The SSE event name is picked from the payload type.
type (
	RegistryEvent      RegistryResponse
	NotificationsEvent NotificationsResponse
	OverlayEvent       OverlayResponse
)

func registerStream(api huma.API, a *app.App) {
	sse.Register(api, huma.Operation{
		OperationID: "stream",
		Method:      http.MethodGet,
		Path:        "/stream",
		Summary:     "Live registry, toast and overlay updates",
	}, map[string]any{
		"registry": RegistryEvent{},
		"queue":    NotificationsEvent{},
		"overlay":  OverlayEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		regCh := make(chan registry.Snapshot, 1)
		queueCh := make(chan notify.State, 1)
		overlayCh := make(chan bool, 1)

		unsubReg := a.Registry.Subscribe(observe.Latest(regCh))
		defer unsubReg()
		unsubQueue := a.Queue.Subscribe(observe.Latest(queueCh))
		defer unsubQueue()
		unsubOverlay := a.Overlays.Subscribe(observe.Latest(overlayCh))
		defer unsubOverlay()

		// Initial state so clients render without waiting for a change.
		if err := send.Data(RegistryEvent(registryResponse(a.Time, a.Registry.Snapshot()))); err != nil {
			return
		}
		if err := send.Data(NotificationsEvent(notificationsResponse(a.Queue.State()))); err != nil {
			return
		}
		if err := send.Data(OverlayEvent(overlayResponse(a.Overlays))); err != nil {
			return
		}

		for {
			var err error
			select {
			case <-ctx.Done():
				return
			case snap := <-regCh:
				err = send.Data(RegistryEvent(registryResponse(a.Time, snap)))
			case st := <-queueCh:
				err = send.Data(NotificationsEvent(notificationsResponse(st)))
			case <-overlayCh:
				err = send.Data(OverlayEvent(overlayResponse(a.Overlays)))
			}
			if err != nil {
				return
			}
		}
	})
}
