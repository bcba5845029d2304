package goRotate

import (
	"context"
	"strconv"
	"testing"
)

func newBenchEngine(b *testing.B) *Engine {
	b.Helper()
	env := newTestEnv(b, "memory", func(cfg *Config) {
		cfg.Audit.Enabled = false
		cfg.Session.MaxPerPrincipal = 1 << 20
	}, nil)
	return env.engine
}

func BenchmarkIssueForLogin(b *testing.B) {
	engine := newBenchEngine(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.IssueForLogin(ctx, "alice"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRotate(b *testing.B) {
	engine := newBenchEngine(b)
	ctx := context.Background()

	pair, err := engine.IssueForLogin(ctx, "alice")
	if err != nil {
		b.Fatal(err)
	}
	token := pair.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, err := engine.Rotate(ctx, token)
		if err != nil || !out.OK() {
			b.Fatalf("rotate %d: %v %v", i, err, out.Err())
		}
		token = out.Pair.RefreshToken
	}
}

func BenchmarkValidateAccess(b *testing.B) {
	engine := newBenchEngine(b)
	ctx := context.Background()

	pair, err := engine.IssueForLogin(ctx, "root")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := engine.ValidateAccess(ctx, pair.AccessToken); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkGateLoginAttempt(b *testing.B) {
	engine := newBenchEngine(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		attempt := LoginAttempt{Origin: "10.0.0." + strconv.Itoa(i%250), Principal: "alice"}
		if _, err := engine.GateLoginAttempt(ctx, attempt); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkResolvePermissions(b *testing.B) {
	engine := newBenchEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.ResolvePermissions("ADMIN", "USER")
	}
}
