package audit

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/matrixgate/internal/artifact"
	"github.com/ShayCichocki/matrixgate/internal/environment"
)

func buildJar(t *testing.T, entries ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "core-1.0.jar")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e)
		require.NoError(t, err)
		if e[len(e)-1] != '/' {
			_, err = w.Write([]byte("x"))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestAudit_ForbiddenPrefix(t *testing.T) {
	jar := buildJar(t,
		"kotlinx/",
		"kotlinx/coroutines/Job.class",
		"kotlinx/atomicfu/AtomicFU.class",
		"META-INF/MANIFEST.MF",
	)

	violations, err := New().Audit(artifact.Resolved{Path: jar}, environment.AuditRules{
		ForbiddenPrefixes: []string{"kotlinx.atomicfu"},
	})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "forbidden symbol: kotlinx/atomicfu/AtomicFU.class", violations[0].String())
	assert.Equal(t, "core-1.0.jar", violations[0].Artifact)
}

func TestCheck_ForbiddenFileNames(t *testing.T) {
	entries := []string{
		"module-info.class",
		"META-INF/versions/9/module-info.class",
		"com/example/Core.class",
	}
	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{name: "root file name", prefix: "module-info.class", want: []string{"module-info.class", "META-INF/versions/9/module-info.class"}},
		{name: "dotted package", prefix: "com.example", want: []string{"com/example/Core.class"}},
		{name: "slashed package", prefix: "com/example/", want: []string{"com/example/Core.class"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := Check("core-1.0.jar", entries, environment.AuditRules{ForbiddenPrefixes: []string{tt.prefix}})
			var got []string
			for _, v := range violations {
				assert.Equal(t, ForbiddenSymbol, v.Kind)
				got = append(got, v.Entry)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestAudit_RequiredResources(t *testing.T) {
	jar := buildJar(t,
		"kotlinx/coroutines/Job.class",
		"META-INF/proguard/coroutines.pro",
	)

	violations, err := New().Audit(artifact.Resolved{Path: jar}, environment.AuditRules{
		RequiredResources: []string{"META-INF/proguard/coroutines.pro", "/META-INF/com.android.tools/r8/coroutines.pro"},
	})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, MissingResource, violations[0].Kind)
	assert.Equal(t, "missing resource: META-INF/com.android.tools/r8/coroutines.pro", violations[0].String())
}

func TestAudit_ReportsEveryViolation(t *testing.T) {
	jar := buildJar(t,
		"kotlinx/atomicfu/A.class",
		"kotlinx/atomicfu/B.class",
		"META-INF/versions/9/kotlinx/atomicfu/C.class",
	)

	violations, err := New().Audit(artifact.Resolved{Path: jar}, environment.AuditRules{
		ForbiddenPrefixes: []string{"kotlinx/atomicfu/"},
		RequiredResources: []string{"META-INF/x"},
	})
	require.NoError(t, err)

	var lines []string
	for _, v := range violations {
		lines = append(lines, v.String())
	}
	assert.Equal(t, []string{
		"forbidden symbol: META-INF/versions/9/kotlinx/atomicfu/C.class",
		"forbidden symbol: kotlinx/atomicfu/A.class",
		"forbidden symbol: kotlinx/atomicfu/B.class",
		"missing resource: META-INF/x",
	}, lines)
}

func TestAudit_Clean(t *testing.T) {
	jar := buildJar(t, "kotlinx/coroutines/Job.class")
	violations, err := New().Audit(artifact.Resolved{Path: jar}, environment.AuditRules{
		ForbiddenPrefixes: []string{"kotlinx.atomicfu"},
	})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestAudit_NotAContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jar")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0644))

	_, err := New().Audit(artifact.Resolved{Path: path}, environment.AuditRules{})
	assert.Error(t, err)
}

func TestListEntries_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "kotlinx", "atomicfu"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kotlinx", "atomicfu", "A.class"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module-info.class"), nil, 0644))

	entries, err := ListEntries(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"kotlinx/atomicfu/A.class", "module-info.class"}, entries)
}

func TestAuditEnvironment_RequiredAcrossArtifacts(t *testing.T) {
	core := artifact.Resolved{
		Coordinate: artifact.Coordinate{Name: "kotlinx-coroutines-core-jvm"},
		Path:       buildJar(t, "kotlinx/coroutines/Job.class", "META-INF/proguard/coroutines.pro"),
	}
	android := artifact.Resolved{
		Coordinate: artifact.Coordinate{Name: "kotlinx-coroutines-android"},
		Path:       buildJar(t, "kotlinx/coroutines/android/HandlerDispatcher.class", "kotlinx/atomicfu/AtomicInt.class"),
	}
	rules := environment.AuditRules{
		ForbiddenPrefixes: []string{"kotlinx.atomicfu"},
		RequiredResources: []string{"META-INF/proguard/coroutines.pro"},
	}

	violations, err := New().AuditEnvironment(context.Background(), []artifact.Resolved{core, android}, rules)
	require.NoError(t, err)
	require.Len(t, violations, 1, "resource present in one targeted artifact satisfies the rule")
	assert.Equal(t, "forbidden symbol: kotlinx/atomicfu/AtomicInt.class", violations[0].String())

	rules.Artifacts = []string{"kotlinx-coroutines-android"}
	violations, err = New().AuditEnvironment(context.Background(), []artifact.Resolved{core, android}, rules)
	require.NoError(t, err)
	require.Len(t, violations, 2)
	assert.Equal(t, "missing resource: META-INF/proguard/coroutines.pro", violations[1].String())
}

func TestAuditEnvironment_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := artifact.Resolved{Path: buildJar(t, "a/B.class")}
	_, err := New().AuditEnvironment(ctx, []artifact.Resolved{res}, environment.AuditRules{ForbiddenPrefixes: []string{"x"}})
	assert.ErrorIs(t, err, context.Canceled)
}
