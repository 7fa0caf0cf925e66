package resourcekit

import (
	"context"
	"strings"
	"testing"
)

func TestDispatchOrder(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher()

	var calls []string
	Listen(d, func(_ context.Context, e *BeforeFileAddedEvent) {
		calls = append(calls, "first")
		e.FileName = strings.ToLower(e.FileName)
	})
	Listen(d, func(_ context.Context, e *BeforeFileAddedEvent) {
		calls = append(calls, "second:"+e.FileName)
		e.FileName = "prefix_" + e.FileName
	})
	Listen(d, func(context.Context, *AfterFileAddedEvent) {
		calls = append(calls, "other type")
	})

	ev := Dispatch(ctx, d, &BeforeFileAddedEvent{FileName: "Photo.JPG"})
	if ev.FileName != "prefix_photo.jpg" {
		t.Errorf("FileName = %q, want prefix_photo.jpg", ev.FileName)
	}
	if strings.Join(calls, ",") != "first,second:photo.jpg" {
		t.Errorf("calls = %v", calls)
	}
}

func TestDispatchNil(t *testing.T) {
	ev := Dispatch(context.Background(), nil, &BeforeFolderAddedEvent{FolderName: "docs"})
	if ev.FolderName != "docs" {
		t.Errorf("FolderName = %q", ev.FolderName)
	}
}

func TestDispatchWithoutListeners(t *testing.T) {
	d := NewDispatcher()
	Listen(d, func(context.Context, *AfterFolderAddedEvent) { t.Error("unexpected listener call") })
	ev := Dispatch(context.Background(), d, &BeforeFileRenamedEvent{TargetName: "b.txt"})
	if ev.TargetName != "b.txt" {
		t.Errorf("TargetName = %q", ev.TargetName)
	}
}
