package output

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"

	"github.com/local/viewsynth/internal/agent"
	"github.com/local/viewsynth/internal/raster"
	"github.com/local/viewsynth/internal/sampling"
	"github.com/local/viewsynth/internal/viewport"
	"github.com/local/viewsynth/internal/viewset"
)

func testDraw() sampling.Draw {
	in := agent.NewPatch(2, 1)
	in.Set(0, 0, 0, -12)
	in.Set(0, 1, 0, 127.6)
	in.Set(1, 0, 0, 300)
	in.Set(1, 1, 0, 64)

	mask := agent.NewPatch(2, 2)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if i == j {
				mask.Set(i, j, 1, raster.On)
			} else {
				mask.Set(i, j, 0, raster.On)
			}
		}
	}
	return sampling.Draw{
		Patches: viewset.Patches{
			State:   viewport.State{Center: raster.Pt(10.5, 20.25), Rotation: 90, Zoom: -1},
			Names:   []string{MemberInput, MemberMask},
			Patches: []agent.Patch{in, mask},
		},
		Attempts:   3,
		Dispersion: 41.5,
		Quadrant:   1,
	}
}

func decodeGray(t *testing.T, data []byte) *image.Gray {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	g, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("decoded %T, want *image.Gray", img)
	}
	return g
}

type fakeUploader struct {
	keys []string
}

func (f *fakeUploader) Upload(_ context.Context, bucket, key, _ string, body io.Reader, meta map[string]string) error {
	if _, err := io.ReadAll(body); err != nil {
		return err
	}
	f.keys = append(f.keys, bucket+"/"+key+"#"+meta["job-id"])
	return nil
}

func TestEncode(t *testing.T) {
	Convey("Given a sample with input and mask", t, func() {
		s, err := NewSample("job-1", 7, testDraw())
		So(err, ShouldBeNil)
		So(s.ID, ShouldNotBeEmpty)
		So(s.ID, ShouldEqual, SampleID("job-1", 7))
		So(s.ID, ShouldNotEqual, SampleID("job-1", 8))
		So(s.ID, ShouldNotEqual, SampleID("job-2", 7))
		So(s.Mask, ShouldNotBeNil)

		files, err := s.Encode(0)
		So(err, ShouldBeNil)
		So(len(files), ShouldEqual, 3)
		So(files[0].Name, ShouldStartWith, "000007_")

		Convey("the input PNG is clamped and rounded", func() {
			g := decodeGray(t, files[0].Data)
			So(g.Pix, ShouldResemble, []uint8{0, 128, 255, 64})
		})

		Convey("the mask PNG holds class indices", func() {
			g := decodeGray(t, files[1].Data)
			So(g.Pix, ShouldResemble, []uint8{1, 0, 0, 1})
		})

		Convey("the sidecar carries the viewport state", func() {
			var m Meta
			So(yaml.Unmarshal(files[2].Data, &m), ShouldBeNil)
			So(m.JobID, ShouldEqual, "job-1")
			So(m.Center, ShouldResemble, [2]float64{10.5, 20.25})
			So(m.Rotation, ShouldEqual, 90)
			So(m.Quadrant, ShouldEqual, 1)
			So(m.Classes, ShouldEqual, 2)
			So(m.ViewSize, ShouldEqual, 2)
		})
	})

	Convey("A draw without an input member is rejected", t, func() {
		d := testDraw()
		d.Patches.Names = []string{"page", "labels"}
		_, err := NewSample("job-1", 0, d)
		So(err, ShouldNotBeNil)
	})
}

func TestSinks(t *testing.T) {
	Convey("Given an encoded sample", t, func() {
		s, err := NewSample("job-2", 0, testDraw())
		So(err, ShouldBeNil)

		Convey("LocalSink writes every file under the job directory", func() {
			dir := t.TempDir()
			loc, err := (&LocalSink{Dir: dir}).Write(context.Background(), s)
			So(err, ShouldBeNil)
			So(filepath.Dir(loc), ShouldEqual, filepath.Join(dir, "job-2"))
			entries, err := os.ReadDir(filepath.Join(dir, "job-2"))
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 3)
		})

		Convey("rewriting the same job index replaces the earlier files", func() {
			dir := t.TempDir()
			sink := &LocalSink{Dir: dir}
			first, err := sink.Write(context.Background(), s)
			So(err, ShouldBeNil)

			again, err := NewSample("job-2", 0, testDraw())
			So(err, ShouldBeNil)
			second, err := sink.Write(context.Background(), again)
			So(err, ShouldBeNil)
			So(second, ShouldEqual, first)

			entries, err := os.ReadDir(filepath.Join(dir, "job-2"))
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 3)
		})

		Convey("S3Sink uploads under the prefix", func() {
			up := &fakeUploader{}
			loc, err := (&S3Sink{Client: up, Bucket: "b", Prefix: "/train/"}).Write(context.Background(), s)
			So(err, ShouldBeNil)
			So(loc, ShouldStartWith, "s3://b/train/job-2/")
			So(len(up.keys), ShouldEqual, 3)
			for _, k := range up.keys {
				So(strings.HasSuffix(k, "#job-2"), ShouldBeTrue)
			}
		})

		Convey("MultiSink fans out and reports the first location", func() {
			up := &fakeUploader{}
			dir := t.TempDir()
			loc, err := MultiSink{&LocalSink{Dir: dir}, &S3Sink{Client: up, Bucket: "b"}}.Write(context.Background(), s)
			So(err, ShouldBeNil)
			So(loc, ShouldStartWith, dir)
			So(len(up.keys), ShouldEqual, 3)

			_, err = MultiSink{}.Write(context.Background(), s)
			So(err, ShouldNotBeNil)
		})
	})
}
