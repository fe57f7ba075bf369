package timeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/newsline/internal/testcorpus"
	"github.com/Aman-CERP/newsline/internal/timeline"
)

func benchBuild(b *testing.B, articles, perArticle int) {
	events := testcorpus.Events(testcorpus.Articles(testcorpus.Options{Articles: articles, Seed: 9}), perArticle, 9)
	cfg := timeline.DefaultConfig()
	cfg.UseOracle = false
	cfg.MaxEvents = 500
	builder, err := timeline.NewBuilder(nil, cfg)
	require.NoError(b, err)
	b.Cleanup(func() { _ = builder.Close() })
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.Build(ctx, "central banks interest rates", events); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBuilder_Build_100Events(b *testing.B) { benchBuild(b, 50, 2) }

func BenchmarkBuilder_Build_600Events(b *testing.B) { benchBuild(b, 200, 3) }
