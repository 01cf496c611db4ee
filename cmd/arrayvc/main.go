// SPDX-License-Identifier: Apache-2.0

// Command arrayvc is the command-line front end over pkg/store and
// pkg/sync: one subcommand per repository operation, dispatched with the
// standard library flag package rather than a CLI framework (DESIGN.md
// explains why no third-party framework earns its place here).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/ndarray"
	"github.com/arrayvc/arrayvc/pkg/store"
	"github.com/arrayvc/arrayvc/pkg/store/config"
	"github.com/arrayvc/arrayvc/pkg/sync"
)

var log = logrus.StandardLogger()

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = runInit(args)
	case "branch":
		err = runBranch(args)
	case "remote":
		err = runRemote(args)
	case "log":
		err = runLog(args)
	case "summary":
		err = runSummary(args)
	case "merge":
		err = runMerge(args)
	case "write-sample":
		err = runWriteSample(args)
	case "read-sample":
		err = runReadSample(args)
	case "token":
		err = runToken(args)
	case "serve":
		err = runServe(args)
	case "push":
		err = runPush(args)
	case "fetch":
		err = runFetch(args)
	case "fetch-data":
		err = runFetchData(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "arrayvc: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "arrayvc: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: arrayvc <command> [arguments]

commands:
  init         create a repository in a new .store directory
  branch       list or create branches
  remote       list, add, or remove remotes
  log          show commit history for a branch or commit
  summary      report branch/digest counts and writer lock state
  merge        merge one branch into another
  write-sample write one sample's bytes into a staged commit
  read-sample  read one sample's bytes from a commit
  token        issue a bearer token for push or fetch
  serve        run a sync server over a repository
  push         push a branch to a remote
  fetch        fetch a branch from a remote
  fetch-data   materialize a fetched commit's reference-only samples
`)
}

func openRepo(dir string) (*store.Repository, error) {
	return store.Open(dir, log, nil)
}

// runInit lays down <dir>/.store per spec.md §6's on-disk layout, then
// records the committer identity supplementing spec.md per
// original_source's "user identity is required at init" convention.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	user := fs.String("user", "", "committer name")
	email := fs.String("email", "", "committer email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	storeDir := storeDirOf(*dir)
	cfg := config.Default()
	cfg.User.Name = *user
	cfg.User.Email = *email
	if err := config.Save(storeDir, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()
	fmt.Printf("initialized repository at %s\n", storeDir)
	return nil
}

func storeDirOf(dir string) string { return dir + "/.store" }

func runBranch(args []string) error {
	fs := flag.NewFlagSet("branch", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	from := fs.String("from", "", "branch or commit to start the new branch from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	rest := fs.Args()
	if len(rest) == 0 {
		names, err := repo.Branches.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}
	name := rest[0]
	head := digest.Zero
	if *from != "" {
		head, err = repo.ResolveCommit(*from)
		if err != nil {
			return err
		}
	}
	if err := repo.Branches.Set(name, head); err != nil {
		return err
	}
	fmt.Printf("created branch %s at %s\n", name, head)
	return nil
}

func runRemote(args []string) error {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	rest := fs.Args()
	if len(rest) == 0 {
		remotes, err := repo.Branches.ListRemotes()
		if err != nil {
			return err
		}
		for _, r := range remotes {
			fmt.Printf("%s\t%s\n", r.Name, r.Address)
		}
		return nil
	}
	switch rest[0] {
	case "add":
		if len(rest) != 3 {
			return fmt.Errorf("usage: remote add <name> <address>")
		}
		return repo.Branches.AddRemote(rest[1], rest[2])
	case "remove":
		if len(rest) != 2 {
			return fmt.Errorf("usage: remote remove <name>")
		}
		return repo.Branches.RemoveRemote(rest[1])
	default:
		return fmt.Errorf("unknown remote subcommand %q", rest[0])
	}
}

func runLog(args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	ref := fs.String("ref", "master", "branch or commit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	entries, err := repo.Log(*ref)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("commit %s\n", e.Digest)
		fmt.Printf("Author: %s <%s>\n", e.Spec.User, e.Spec.Email)
		fmt.Printf("Date:   %s\n", e.Spec.Time.Format(time.RFC3339))
		if e.Spec.IsMerge {
			fmt.Printf("Merge:  %s into %s\n", e.Spec.MergeDev, e.Spec.MergeMaster)
		}
		fmt.Printf("\n    %s\n\n", e.Spec.Message)
	}
	return nil
}

func runSummary(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	s, err := repo.Summary()
	if err != nil {
		return err
	}
	fmt.Printf("branches:      %d\n", len(s.Branches))
	for _, b := range s.Branches {
		fmt.Printf("  %s\n", b)
	}
	fmt.Printf("total digests: %d\n", s.TotalDigests)
	if s.WriterLocked {
		fmt.Printf("writer lock:   held by %s\n", s.WriterHolder)
	} else {
		fmt.Printf("writer lock:   free\n")
	}
	return nil
}

func runMerge(args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	user := fs.String("user", "", "committer name")
	email := fs.String("email", "", "committer email")
	message := fs.String("message", "", "merge commit message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: merge [flags] <master-branch> <dev-branch>")
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	holder := fmt.Sprintf("cli-%d", os.Getpid())
	spec := store.CommitSpec{User: *user, Email: *email, Message: *message, Time: time.Now().UTC()}
	d, conflicts, err := repo.Merge(rest[0], rest[1], holder, spec)
	if err != nil {
		if len(conflicts) > 0 {
			for _, c := range conflicts {
				fmt.Printf("conflict: %s %s/%s\n", c.Kind, c.Layer, c.Key)
			}
		}
		return err
	}
	fmt.Printf("merged into %s: %s\n", rest[0], d)
	return nil
}

// runWriteSample opens the single writer checkout, writes one sample
// read from stdin or a file, and commits — a minimal stand-in for the
// original CLI's broader dataset-import surface, scoped to what a
// scripted test or smoke check needs: one sample in, one commit out.
func runWriteSample(args []string) error {
	fs := flag.NewFlagSet("write-sample", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	branch := fs.String("branch", "master", "branch to write onto")
	arrayset := fs.String("arrayset", "", "arrayset name")
	name := fs.String("name", "", "sample name")
	dtype := fs.String("dtype", "float32", "sample dtype")
	shape := fs.String("shape", "", "comma-separated shape, e.g. 3,224,224")
	input := fs.String("input", "-", "file to read raw sample bytes from, or - for stdin")
	user := fs.String("user", "", "committer name")
	email := fs.String("email", "", "committer email")
	message := fs.String("message", "", "commit message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *arrayset == "" || *name == "" {
		return fmt.Errorf("-arrayset and -name are required")
	}
	dt, err := parseDType(*dtype)
	if err != nil {
		return err
	}
	sh, err := parseShape(*shape)
	if err != nil {
		return err
	}

	var raw []byte
	if *input == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*input)
	}
	if err != nil {
		return fmt.Errorf("read sample bytes: %w", err)
	}
	arr, err := ndarray.NewFromBytes(sh, dt, raw)
	if err != nil {
		return fmt.Errorf("decode sample: %w", err)
	}

	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	holder := fmt.Sprintf("cli-%d", os.Getpid())
	wc, err := repo.OpenWriteCheckout(*branch, holder)
	if err != nil {
		return err
	}
	defer wc.Close()

	schema := store.Schema{UUID: *arrayset, MaxShape: sh, DType: dt, IsNamedSamples: true}
	exists, err := repo.Staging.HasArrayset(*arrayset)
	if err != nil {
		return err
	}
	if !exists {
		if err := wc.InitArrayset(*arrayset, schema); err != nil {
			return err
		}
	}
	if err := wc.WriteSample(*arrayset, store.SampleKey{Name: *name, Named: true}, arr); err != nil {
		return err
	}
	parent, err := repo.Branches.Get(*branch)
	if err != nil && !store.IsKind(err, store.KindNotFound) {
		return err
	}
	d, err := wc.Commit(store.CommitSpec{User: *user, Email: *email, Message: *message, Time: time.Now().UTC()}, digest.Zero)
	if err != nil {
		return err
	}
	fmt.Printf("committed %s onto %s (parent %s)\n", d, *branch, parent)
	return nil
}

func runReadSample(args []string) error {
	fs := flag.NewFlagSet("read-sample", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	ref := fs.String("ref", "master", "branch or commit")
	arrayset := fs.String("arrayset", "", "arrayset name")
	name := fs.String("name", "", "sample name")
	output := fs.String("output", "-", "file to write raw sample bytes to, or - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *arrayset == "" || *name == "" {
		return fmt.Errorf("-arrayset and -name are required")
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	rc, err := repo.OpenReadCheckout(*ref)
	if err != nil {
		return err
	}
	arr, err := rc.ReadSample(*arrayset, store.SampleKey{Name: *name, Named: true})
	if err != nil {
		return err
	}
	if *output == "-" {
		_, err = os.Stdout.Write(arr.Data)
		return err
	}
	return os.WriteFile(*output, arr.Data, 0o644)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secret := fs.String("secret", "", "shared repository secret")
	op := fs.String("op", "download", "operation to authorize: upload or download")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return fmt.Errorf("-secret is required")
	}
	operation := sync.Download
	if *op == "upload" {
		operation = sync.Upload
	}
	tok, err := sync.IssueToken([]byte(*secret), operation, time.Now().Add(*ttl))
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	addr := fs.String("addr", ":8080", "listen address")
	secret := fs.String("secret", "", "shared repository secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return fmt.Errorf("-secret is required")
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	srv := sync.NewServer(repo, []byte(*secret), *addr, log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Infof("arrayvc sync server listening on %s", *addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sig:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Close(ctx)
	}
}

func remoteTransport(repo *store.Repository, name, token string) (sync.Transport, error) {
	rr, err := repo.Branches.GetRemote(name)
	if err != nil {
		return nil, err
	}
	return sync.NewHTTPTransport(rr.Address, token), nil
}

func runPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	token := fs.String("token", "", "bearer token authorizing upload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: push [flags] <remote> <branch>")
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	t, err := remoteTransport(repo, rest[0], *token)
	if err != nil {
		return err
	}
	result, err := sync.Push(context.Background(), repo, t, rest[1])
	if err != nil {
		return err
	}
	fmt.Printf("pushed %d commit(s), %s is now at %s\n", result.CommitsPushed, result.Branch, result.Head)
	return nil
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	token := fs.String("token", "", "bearer token authorizing download")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: fetch [flags] <remote> <branch>")
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	t, err := remoteTransport(repo, rest[0], *token)
	if err != nil {
		return err
	}
	result, err := sync.Fetch(context.Background(), repo, t, rest[1])
	if err != nil {
		return err
	}
	fmt.Printf("fetched %d commit(s), %s is now at %s\n", result.CommitsFetched, result.Branch, result.Head)
	return nil
}

func runFetchData(args []string) error {
	fs := flag.NewFlagSet("fetch-data", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	token := fs.String("token", "", "bearer token authorizing download")
	ref := fs.String("ref", "master", "branch or commit to materialize")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: fetch-data [flags] <remote>")
	}
	repo, err := openRepo(*dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	t, err := remoteTransport(repo, rest[0], *token)
	if err != nil {
		return err
	}
	commit, err := repo.ResolveCommit(*ref)
	if err != nil {
		return err
	}
	if err := sync.FetchDataForCommit(context.Background(), repo, t, commit); err != nil {
		return err
	}
	fmt.Printf("materialized data for commit %s\n", commit)
	return nil
}

func parseDType(s string) (ndarray.DType, error) {
	switch s {
	case "float32":
		return ndarray.Float32, nil
	case "float64":
		return ndarray.Float64, nil
	case "int8":
		return ndarray.Int8, nil
	case "int16":
		return ndarray.Int16, nil
	case "int32":
		return ndarray.Int32, nil
	case "int64":
		return ndarray.Int64, nil
	case "uint8":
		return ndarray.Uint8, nil
	case "uint16":
		return ndarray.Uint16, nil
	case "uint32":
		return ndarray.Uint32, nil
	case "uint64":
		return ndarray.Uint64, nil
	case "bool":
		return ndarray.Bool, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

func parseShape(s string) (ndarray.Shape, error) {
	if s == "" {
		return nil, nil
	}
	var shape ndarray.Shape
	for _, part := range splitComma(s) {
		var v int64
		if _, err := fmt.Sscanf(part, "%d", &v); err != nil {
			return nil, fmt.Errorf("invalid shape %q: %w", s, err)
		}
		shape = append(shape, v)
	}
	return shape, nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
