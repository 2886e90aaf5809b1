// Package annotator provides an interactive bounding-box annotation engine.
//
// A rendering surface feeds pointer, keyboard and wheel events into a
// session. The session owns the boxes, the zoom/pan transform and the
// interaction mode, and pushes state snapshots to a host. The host answers
// asynchronously, most notably with label suggestions for a box.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"strings"
//
//		annotator "github.com/menta2k/bbox-annotator"
//		"github.com/menta2k/bbox-annotator/pkg/bridge"
//	)
//
//	func main() {
//		args := bridge.InitArgs{ImageURL: "photo.jpg", ImageSize: [2]int{800, 600}}
//		script := strings.NewReader(`
//	{"kind":"pointer_down","x":100,"y":100}
//	{"kind":"pointer_up","x":300,"y":250}
//	{"kind":"label_input","text":"car"}
//	{"kind":"key","code":"KeyS","ctrl":true}
//	`)
//		sess, err := annotator.RunScript(context.Background(), bridge.LogHost{}, args, script)
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("%d boxes", sess.Store().Len())
//	}
//
// The package consists of these components:
//
//  1. Transform (pkg/transform): view/image coordinate mapping, zoom and pan
//  2. Store (pkg/store): the box list and selection
//  3. Interaction (pkg/interaction): the draw/edit state machine
//  4. Suggest (pkg/suggest): the label suggestion round trip
//  5. Bridge (pkg/bridge): snapshots, host messages and the websocket transport
//  6. Session (pkg/session): the single-threaded event loop tying them together
//
// The host side (pkg/host) loads images, asks a vision model for label
// suggestions (pkg/labeler with pkg/ollama or pkg/llamacpp) and saves
// annotations to disk or a MinIO bucket (pkg/storage). Images with nothing
// saved can start from contrast-based region proposals (pkg/vision).
package annotator

import (
	"context"
	"image"
	"io"

	"github.com/menta2k/bbox-annotator/pkg/bridge"
	"github.com/menta2k/bbox-annotator/pkg/render"
	"github.com/menta2k/bbox-annotator/pkg/session"
)

// Version of the annotator library
const Version = "1.0.0"

// New creates a session pushing to h
func New(h bridge.Host, opts ...session.Option) *session.Session {
	return session.New(h, opts...)
}

// RunScript starts a session from args, replays a JSON-lines event script
// against it and returns the session once the script ends.
func RunScript(ctx context.Context, h bridge.Host, args bridge.InitArgs, script io.Reader, opts ...session.Option) (*session.Session, error) {
	sess := session.New(h, opts...)
	sess.Init(ctx, args)

	surface := make(chan session.Event)
	replayErr := make(chan error, 1)
	go func() {
		replayErr <- session.Replay(ctx, script, surface)
	}()

	runErr := sess.Run(ctx, surface, nil)
	if err := <-replayErr; err != nil {
		return sess, err
	}
	return sess, runErr
}

// RenderView draws the current view of sess over img
func RenderView(img image.Image, sess *session.Session) *image.NRGBA {
	return render.Rasterize(img, render.Scene(sess.View()))
}
