package cli_test

import (
	"strings"
	"testing"

	"github.com/calvinalkan/fsdb/internal/cli"
)

func Test_Import_Then_Export_Round_Trips_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stdout := c.MustRunWithInput("b\t2\na\t1\nc\twith\ttabs\na\t3\n", "import")
	cli.AssertContains(t, stdout, "imported 4 entries")

	if got, want := c.MustRun("export"), "a\t3\nb\t2\nc\twith\ttabs"; got != want {
		t.Fatalf("export=%q, want=%q", got, want)
	}

	if got, want := c.MustRun("export", "--prefix", "b"), "b\t2"; got != want {
		t.Fatalf("export --prefix=%q, want=%q", got, want)
	}
}

func Test_Import_Reads_File_Relative_To_Cwd_When_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("in.tsv", "k1\tv1\nk2\tv2\n")

	c.MustRun("import", "--batch-mb", "1", "in.tsv")

	if got, want := c.MustRun("get", "k2"), "v2"; got != want {
		t.Fatalf("get=%q, want=%q", got, want)
	}
}

func Test_Import_Warns_When_Line_Has_No_Tab(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stdout, stderr, code := c.RunWithInput("good\tv\nbad line\n\n\tnokey\n", "import")
	if code != 1 {
		t.Fatalf("code=%d, want=1", code)
	}

	cli.AssertContains(t, stdout, "imported 1 entries")
	cli.AssertContains(t, stderr, "line 2 is not key<TAB>value")
	cli.AssertContains(t, stderr, "line 4 is not key<TAB>value")
}

func Test_Import_Fails_When_File_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("import", "missing.tsv")
	cli.AssertContains(t, stderr, "opening input")
}

func Test_Export_Warns_When_Value_Spans_Lines(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("put", "ok", "v")
	c.MustRunWithInput("two\nlines", "put", "multi")

	stdout, stderr, code := c.Run("export")
	if code != 1 {
		t.Fatalf("code=%d, want=1", code)
	}

	if got, want := strings.TrimSpace(stdout), "ok\tv"; got != want {
		t.Fatalf("export=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, `entry "multi" contains a tab or newline`)
}

func Test_Bulk_Writes_Count_Keys_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stdout := c.MustRun("bulk", "25", "--size", "16")
	cli.AssertContains(t, stdout, "wrote 25 keys (400 B)")

	cli.AssertContains(t, c.MustRun("stat"), "keys=25")

	keys := strings.Split(c.MustRun("ls"), "\n")
	if got, want := len(keys), 25; got != want {
		t.Fatalf("len(keys)=%d, want=%d", got, want)
	}

	if got, want := len(keys[0]), 36; got != want {
		t.Fatalf("key length=%d, want=%d (uuid)", got, want)
	}
}

func Test_Bulk_Fails_When_Count_Invalid(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	for _, arg := range []string{"0", "-1", "x"} {
		stderr := c.MustFail("bulk", "--", arg)
		cli.AssertContains(t, stderr, "count must be a positive integer")
	}

	stderr := c.MustFail("bulk")
	cli.AssertContains(t, stderr, "count must be a positive integer")
}
