// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/turnqueue"
)

func TestChannelTryPushAfterCloseFails(t *testing.T) {
	ch := turnqueue.NewChannel[int](4)
	if err := ch.TryPush(1); err != nil {
		t.Fatalf("TryPush before close: %v", err)
	}
	if !ch.Close() {
		t.Fatalf("first Close should return true")
	}
	if ch.Close() {
		t.Fatalf("second Close should return false")
	}
	if err := ch.TryPush(2); !errors.Is(err, turnqueue.ErrClosed) {
		t.Fatalf("TryPush after Close: got %v, want ErrClosed", err)
	}
}

func TestChannelDrainsBeforeReportingClosed(t *testing.T) {
	ch := turnqueue.NewChannel[int](4)
	if err := ch.TryPush(1); err != nil {
		t.Fatalf("TryPush: %v", err)
	}
	if err := ch.TryPush(2); err != nil {
		t.Fatalf("TryPush: %v", err)
	}
	ch.Close()

	v, err := ch.TryPop()
	if err != nil || v != 1 {
		t.Fatalf("TryPop after close (buffered): got (%d, %v), want (1, nil)", v, err)
	}
	v, err = ch.TryPop()
	if err != nil || v != 2 {
		t.Fatalf("TryPop after close (buffered): got (%d, %v), want (2, nil)", v, err)
	}
	if _, err := ch.TryPop(); !errors.Is(err, turnqueue.ErrClosed) {
		t.Fatalf("TryPop once drained: got %v, want ErrClosed", err)
	}
}

func TestChannelAsyncPopWakesOnClose(t *testing.T) {
	ch := turnqueue.NewChannel[int](4)

	result := make(chan error, 1)
	go func() {
		_, err := ch.Pop(context.Background())
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ch.Close()

	select {
	case err := <-result:
		if !errors.Is(err, turnqueue.ErrClosed) {
			t.Fatalf("Pop after Close on empty channel: got %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("parked Pop was never woken by Close")
	}
}

func TestChannelAsyncPushBlocksUntilPop(t *testing.T) {
	ch := turnqueue.NewChannel[int](1)
	if err := ch.TryPush(1); err != nil {
		t.Fatalf("TryPush: %v", err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- ch.Push(context.Background(), 2)
	}()

	select {
	case <-pushed:
		t.Fatalf("Push on a full channel should not complete before a Pop")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := ch.Pop(context.Background()); err != nil {
		t.Fatalf("Pop: %v", err)
	}

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("Push after room freed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Push never completed after a slot opened")
	}
}

func TestChannelPushUntilTimesOut(t *testing.T) {
	ch := turnqueue.NewChannel[int](1)
	if err := ch.TryPush(1); err != nil {
		t.Fatalf("TryPush: %v", err)
	}

	err := ch.PushUntil(context.Background(), time.Now().Add(20*time.Millisecond), 2)
	if !errors.Is(err, turnqueue.ErrTimeout) {
		t.Fatalf("PushUntil on a full channel: got %v, want ErrTimeout", err)
	}
	if v, err := ch.TryPop(); err != nil || v != 1 {
		t.Fatalf("original value should be untouched by the failed push: got (%d, %v)", v, err)
	}
}

func TestChannelSplit(t *testing.T) {
	ch := turnqueue.NewChannel[string](4)
	sender, receiver := ch.Split()

	if err := sender.TryPush("hello"); err != nil {
		t.Fatalf("Sender.TryPush: %v", err)
	}
	v, err := receiver.TryPop()
	if err != nil || v != "hello" {
		t.Fatalf("Receiver.TryPop: got (%q, %v), want (\"hello\", nil)", v, err)
	}

	sender.Close()
	if _, err := receiver.Pop(context.Background()); !errors.Is(err, turnqueue.ErrClosed) {
		t.Fatalf("Receiver.Pop after Sender.Close: got %v, want ErrClosed", err)
	}
}
