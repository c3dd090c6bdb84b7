package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"xdp-dispatcher/pin"
	"xdp-dispatcher/revision"
)

func installOpts(loader kernelLoader, bpfRoot string) []Option {
	return []Option{
		WithBPFRoot(bpfRoot),
		WithDispatcherBytecode([]byte("dispatcher-bytecode")),
		withLoader(loader),
		withSkipMountCheck(),
	}
}

func TestInstall_FreshInterfaceCreatesRevisionOne(t *testing.T) {
	bpfRoot := t.TempDir()
	loader := newFakeLoader()

	sets := []ProgramSet{
		NewProgramSet("svc-a", nil).WithPriority("ingress", 1),
	}

	handle, err := Install(context.Background(), "eth0", sets, installOpts(loader, bpfRoot)...)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	defer handle.Close()

	revDir := filepath.Join(bpfRoot, "dispatcher_eth0", "1")
	if _, err := os.Stat(revDir); err != nil {
		t.Fatalf("expected revision directory to exist: %v", err)
	}

	linkPath := filepath.Join(bpfRoot, "dispatcher_eth0", "dispatcher_link")
	if _, err := os.Stat(linkPath); err != nil {
		t.Fatalf("expected dispatcher_link pin to exist: %v", err)
	}

	if _, ok := handle.ByteCode("svc-a"); !ok {
		t.Error("expected ByteCode(\"svc-a\") to be available")
	}
}

func TestInstall_SecondCallRetargetsAndCleansUpPrevious(t *testing.T) {
	bpfRoot := t.TempDir()
	loader := newFakeLoader()

	first, err := Install(context.Background(), "eth0",
		[]ProgramSet{NewProgramSet("svc-a", nil).WithPriority("ingress", 1)},
		installOpts(loader, bpfRoot)...)
	if err != nil {
		t.Fatalf("first Install() error = %v", err)
	}

	second, err := Install(context.Background(), "eth0",
		[]ProgramSet{NewProgramSet("svc-b", nil).WithPriority("egress", 2)},
		installOpts(loader, bpfRoot)...)
	if err != nil {
		t.Fatalf("second Install() error = %v", err)
	}
	defer second.Close()

	revOne := filepath.Join(bpfRoot, "dispatcher_eth0", "1")
	if _, err := os.Stat(revOne); !os.IsNotExist(err) {
		t.Errorf("expected revision 1 to be cleaned up, stat err = %v", err)
	}
	revTwo := filepath.Join(bpfRoot, "dispatcher_eth0", "2")
	if _, err := os.Stat(revTwo); err != nil {
		t.Fatalf("expected revision 2 to exist: %v", err)
	}

	_ = first
}

func TestInstall_MergesWithSurvivingPreviousExtension(t *testing.T) {
	bpfRoot := t.TempDir()
	loader := newFakeLoader()

	_, err := Install(context.Background(), "eth0",
		[]ProgramSet{NewProgramSet("svc-a", nil).WithPriority("ingress", 1)},
		installOpts(loader, bpfRoot)...)
	if err != nil {
		t.Fatalf("first Install() error = %v", err)
	}

	second, err := Install(context.Background(), "eth0",
		[]ProgramSet{NewProgramSet("svc-b", nil).WithPriority("egress", 2)},
		installOpts(loader, bpfRoot)...)
	if err != nil {
		t.Fatalf("second Install() error = %v", err)
	}
	defer second.Close()

	revTwo := filepath.Join(bpfRoot, "dispatcher_eth0", "2")
	entries, err := os.ReadDir(revTwo)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}

	var extensionCount int
	for _, e := range entries {
		if _, ok := pin.Decode(e.Name()); ok {
			extensionCount++
		}
	}
	if extensionCount != 2 {
		t.Errorf("extension pins in revision 2 = %d, want 2 (carried-forward svc-a + new svc-b)", extensionCount)
	}
}

func TestInstall_ContextAlreadyCanceled(t *testing.T) {
	bpfRoot := t.TempDir()
	loader := newFakeLoader()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Install(ctx, "eth0", nil, installOpts(loader, bpfRoot)...)
	if err == nil {
		t.Fatal("expected error for a canceled context")
	}
}

func TestInstall_ConcurrentInstallersSerialize(t *testing.T) {
	bpfRoot := t.TempDir()
	loader := newFakeLoader()

	// Two installers race on the same interface. The named lock must
	// serialize them: whichever acquires second sees the first's
	// revision as current and merges against it, so both extension
	// sets survive and the revision counter lands at exactly 2.
	var wg sync.WaitGroup
	handles := make([]*DispatcherHandle, 2)
	errs := make([]error, 2)

	for i, set := range []ProgramSet{
		NewProgramSet("proc-a", nil).WithPriority("probe", 0),
		NewProgramSet("proc-b", nil).WithPriority("probe2", 5),
	} {
		wg.Add(1)
		go func(i int, set ProgramSet) {
			defer wg.Done()
			handles[i], errs[i] = Install(context.Background(), "eth0",
				[]ProgramSet{set}, installOpts(loader, bpfRoot)...)
		}(i, set)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("installer %d error = %v", i, err)
		}
		defer handles[i].Close()
	}

	dispatcherDir := filepath.Join(bpfRoot, "dispatcher_eth0")
	currentRev, err := revision.CurrentRev(dispatcherDir)
	if err != nil {
		t.Fatalf("CurrentRev() error = %v", err)
	}
	if currentRev != 2 {
		t.Errorf("CurrentRev() = %d, want exactly 2", currentRev)
	}

	entries, err := os.ReadDir(filepath.Join(dispatcherDir, strconv.Itoa(currentRev)))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	found := make(map[extensionKey]uint8)
	for _, e := range entries {
		if a, ok := pin.Decode(e.Name()); ok {
			found[extensionKey{EbpfID: a.EbpfID, ProgramName: a.ProgramName}] = a.Priority
		}
	}
	if len(found) != 2 {
		t.Fatalf("extension pins in final revision = %d, want 2", len(found))
	}
	if prio, ok := found[extensionKey{EbpfID: "proc-a", ProgramName: "probe"}]; !ok || prio != 0 {
		t.Errorf("proc-a/probe priority = %d (present=%v), want 0", prio, ok)
	}
	if prio, ok := found[extensionKey{EbpfID: "proc-b", ProgramName: "probe2"}]; !ok || prio != 5 {
		t.Errorf("proc-b/probe2 priority = %d (present=%v), want 5", prio, ok)
	}
}

func TestClose_RemovesDispatcherWhenNoExtensionsRemain(t *testing.T) {
	bpfRoot := t.TempDir()
	loader := newFakeLoader()

	handle, err := Install(context.Background(), "eth0",
		[]ProgramSet{NewProgramSet("svc-a", nil).WithPriority("ingress", 1)},
		installOpts(loader, bpfRoot)...)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("Close() error = %v, want nil (best-effort)", err)
	}

	linkPath := filepath.Join(bpfRoot, "dispatcher_eth0", "dispatcher_link")
	if _, err := os.Stat(linkPath); !os.IsNotExist(err) {
		t.Errorf("expected dispatcher_link to be removed after Close with no remaining extensions, stat err = %v", err)
	}
}

func TestClose_PreservesForeignExtension(t *testing.T) {
	bpfRoot := t.TempDir()
	loader := newFakeLoader()

	first, err := Install(context.Background(), "eth0",
		[]ProgramSet{NewProgramSet("svc-a", nil).WithPriority("ingress", 1)},
		installOpts(loader, bpfRoot)...)
	if err != nil {
		t.Fatalf("first Install() error = %v", err)
	}

	second, err := Install(context.Background(), "eth0",
		[]ProgramSet{NewProgramSet("svc-b", nil).WithPriority("egress", 2)},
		installOpts(loader, bpfRoot)...)
	if err != nil {
		t.Fatalf("second Install() error = %v", err)
	}

	if err := second.Close(); err != nil {
		t.Fatalf("second.Close() error = %v, want nil (best-effort)", err)
	}

	dispatcherDir := filepath.Join(bpfRoot, "dispatcher_eth0")
	currentRev, err := revision.CurrentRev(dispatcherDir)
	if err != nil {
		t.Fatalf("CurrentRev() error = %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dispatcherDir, strconv.Itoa(currentRev)))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}

	var found []pin.ExtensionAttrs
	for _, e := range entries {
		if a, ok := pin.Decode(e.Name()); ok {
			found = append(found, a)
		}
	}
	if len(found) != 1 {
		t.Fatalf("extension pins remaining = %d, want 1 (foreign svc-a should survive)", len(found))
	}
	if found[0].EbpfID != "svc-a" || found[0].ProgramName != "ingress" {
		t.Errorf("surviving extension = %+v, want svc-a/ingress", found[0])
	}

	linkPath := filepath.Join(dispatcherDir, "dispatcher_link")
	if _, err := os.Stat(linkPath); err != nil {
		t.Errorf("expected dispatcher_link to still exist while a foreign extension remains: %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("first.Close() error = %v, want nil (best-effort)", err)
	}
}
