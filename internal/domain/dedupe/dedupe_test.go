package dedupe_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dedupe "github.com/okian/trackpick/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func counter() (func() (string, error), *atomic.Int32) {
	var n atomic.Int32
	return func() (string, error) {
		return fmt.Sprintf("req-%d", n.Add(1)), nil
	}, &n
}

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		create, calls := counter()

		Convey("Then it starts empty", func() {
			So(d.Size(), ShouldEqual, 0)
		})

		Convey("When a key is submitted for the first time", func() {
			id, existed, err := d.Resolve(ctx, "key-1", create)

			Convey("Then a request is created and recorded", func() {
				So(err, ShouldBeNil)
				So(existed, ShouldBeFalse)
				So(id, ShouldEqual, "req-1")
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And the same key is submitted again", func() {
				again, existed, err := d.Resolve(ctx, "key-1", create)

				Convey("Then the original id is returned", func() {
					So(err, ShouldBeNil)
					So(existed, ShouldBeTrue)
					So(again, ShouldEqual, id)
					So(calls.Load(), ShouldEqual, 1)
				})
			})

			Convey("And the request it produced is forgotten", func() {
				d.Forget(ctx, id)
				again, existed, _ := d.Resolve(ctx, "key-1", create)

				Convey("Then a new request is created", func() {
					So(existed, ShouldBeFalse)
					So(again, ShouldEqual, "req-2")
				})

				Convey("Then forgetting the old id again leaves the new mapping alone", func() {
					d.Forget(ctx, id)
					replay, existed, _ := d.Resolve(ctx, "key-1", create)
					So(existed, ShouldBeTrue)
					So(replay, ShouldEqual, "req-2")
				})
			})

			Convey("And an unknown id is forgotten", func() {
				d.Forget(ctx, "req-404")

				Convey("Then the key still replays", func() {
					_, existed, _ := d.Resolve(ctx, "key-1", create)
					So(existed, ShouldBeTrue)
				})
			})
		})

		Convey("When the key is empty", func() {
			a, _, _ := d.Resolve(ctx, "", create)
			b, existed, _ := d.Resolve(ctx, "", create)

			Convey("Then every submission creates a request", func() {
				So(a, ShouldNotEqual, b)
				So(existed, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When create fails", func() {
			boom := errors.New("boom")
			_, _, err := d.Resolve(ctx, "key-x", func() (string, error) { return "", boom })

			Convey("Then the error is returned and the key stays free", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When many goroutines submit one key", func() {
			var wg sync.WaitGroup
			ids := make([]string, 50)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ids[i], _, _ = d.Resolve(ctx, "shared", create)
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one request is created", func() {
				So(calls.Load(), ShouldEqual, 1)
				for _, id := range ids {
					So(id, ShouldEqual, "req-1")
				}
			})
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
		create, _ := counter()
		_, _, _ = d.Resolve(ctx, "a", create)
		_, _, _ = d.Resolve(ctx, "b", create)
		_, _, _ = d.Resolve(ctx, "c", create)

		Convey("Then the oldest key is evicted", func() {
			So(d.Size(), ShouldEqual, 2)
			_, existed, _ := d.Resolve(ctx, "a", create)
			So(existed, ShouldBeFalse)
		})
	})

	Convey("Given a deduper with a short TTL", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithTTL(20 * time.Millisecond))
		create, _ := counter()
		first, _, _ := d.Resolve(ctx, "k", create)

		Convey("When the key expires", func() {
			time.Sleep(60 * time.Millisecond)
			second, existed, _ := d.Resolve(ctx, "k", create)

			Convey("Then a new request is created", func() {
				So(existed, ShouldBeFalse)
				So(second, ShouldNotEqual, first)
			})

			Convey("Then forgetting the expired id keeps the new mapping", func() {
				d.Forget(ctx, first)
				replay, existed, _ := d.Resolve(ctx, "k", create)
				So(existed, ShouldBeTrue)
				So(replay, ShouldEqual, second)
			})
		})
	})
}
