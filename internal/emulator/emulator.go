package emulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dotcap/internal/topology"
)

var (
	ErrAlreadyBuilt = errors.New("network already built")
	ErrNotBuilt     = errors.New("network not built")
)

// Options configure an Emulator.
type Options struct {
	// WorkDir is the working directory of host commands.
	WorkDir string
	// StateDir holds build records and private host directories.
	StateDir string
	// LearnPoll is the interval between learning checks.
	LearnPoll time.Duration
	// ExecTimeout bounds every host command. Zero means no bound.
	ExecTimeout time.Duration
	Logger      *slog.Logger
}

// Emulator materializes a topology with network namespaces for hosts,
// Open vSwitch or kernel bridges for switches and veth pairs for links.
// Controllers live in the root namespace.
type Emulator struct {
	opts  Options
	log   *slog.Logger
	run   runner
	store *Store

	topo      *topology.Topology
	nodes     map[string]*Node
	switches  map[string]datapath
	ports     map[string]int
	records   []*Record
	attached  map[string]bool
	built     bool
	started   bool
	newSwitch func(topology.Switch) (datapath, error)
}

func New(opts Options) (*Emulator, error) {
	if opts.StateDir == "" {
		opts.StateDir = DefaultStateDir
	}
	if opts.LearnPoll == 0 {
		opts.LearnPoll = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	store, err := NewStore(opts.StateDir)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	e := &Emulator{
		opts:  opts,
		log:   opts.Logger,
		run:   execRunner{},
		store: store,
	}
	e.newSwitch = func(sw topology.Switch) (datapath, error) {
		return newDatapath(sw, e.run)
	}
	return e, nil
}

func (e *Emulator) record(r *Record) {
	if err := e.store.Save(r); err != nil {
		e.log.Warn("failed to save record", "kind", r.Kind, "name", r.Name, "error", err)
	}
	e.records = append(e.records, r)
}

// nextIntf returns the next free interface name on node. Hosts and
// controllers number from eth0, switches from eth1.
func (e *Emulator) nextIntf(node string, kind topology.NodeType) string {
	port, ok := e.ports[node]
	if !ok && kind == topology.NodeSwitch {
		port = 1
	}
	e.ports[node] = port + 1
	return fmt.Sprintf("%s-eth%d", node, port)
}

// Build creates every node and link of t. It must not be called again
// before Stop.
func (e *Emulator) Build(ctx context.Context, t *topology.Topology) error {
	if e.built {
		return ErrAlreadyBuilt
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validate topology: %w", err)
	}

	e.built = true
	e.topo = t
	e.nodes = map[string]*Node{}
	e.switches = map[string]datapath{}
	e.ports = map[string]int{}
	e.attached = map[string]bool{}

	for _, h := range t.Hosts {
		if err := e.buildHost(h); err != nil {
			return fmt.Errorf("build host %s: %w", h.Name, err)
		}
	}

	for _, sw := range t.Switches {
		if err := e.buildSwitch(ctx, sw); err != nil {
			return fmt.Errorf("build switch %s: %w", sw.Name, err)
		}
	}

	for _, l := range t.Links {
		if err := e.buildLink(ctx, l); err != nil {
			return fmt.Errorf("build link %s-%s: %w", l.NodeA, l.NodeB, err)
		}
	}

	e.log.Info("topology built", "hosts", len(t.Hosts), "switches", len(t.Switches), "links", len(t.Links))
	return nil
}

func (e *Emulator) buildHost(h topology.Host) error {
	ns, err := createNamespace(namespaceName(h.Name))
	if err != nil {
		return err
	}
	e.record(&Record{Kind: RecordNamespace, Name: ns.Name, Node: h.Name, Path: ns.Path})

	hd, err := ns.Handle()
	if err != nil {
		return err
	}
	defer hd.Close()
	if err := configureLink(hd, "lo", "", ""); err != nil {
		return err
	}

	node := newNode(h, ns, filepath.Join(e.opts.StateDir, "private"), e.opts.WorkDir)
	if err := node.preparePrivateDirs(); err != nil {
		return err
	}
	for dir, backing := range node.privateDirs {
		e.record(&Record{Kind: RecordPrivateDir, Name: dir, Node: h.Name, Path: backing})
	}

	e.nodes[h.Name] = node
	e.log.Debug("host created", "host", h.Name, "netns", ns.Name)
	return nil
}

func (e *Emulator) buildSwitch(ctx context.Context, sw topology.Switch) error {
	dp, err := e.newSwitch(sw)
	if err != nil {
		return err
	}
	if err := dp.Create(ctx); err != nil {
		return err
	}
	e.record(&Record{Kind: RecordSwitch, Name: sw.Name, Node: sw.Name, Datapath: string(sw.Datapath)})

	e.switches[sw.Name] = dp
	e.log.Debug("switch created", "switch", sw.Name, "datapath", sw.Datapath)
	return nil
}

// buildLink creates a veth pair between two nodes. Host ends move into
// the host namespace; switch and controller ends stay in the root
// namespace.
func (e *Emulator) buildLink(ctx context.Context, l topology.Link) error {
	kindA, _ := e.topo.Kind(l.NodeA)
	kindB, _ := e.topo.Kind(l.NodeB)

	ifA := e.nextIntf(l.NodeA, kindA)
	ifB := e.nextIntf(l.NodeB, kindB)

	veth, err := createVeth(ifA, ifB)
	if err != nil {
		return err
	}
	// Record the end that stays in the root namespace; host ends go away
	// with their namespace.
	rootEnd, rootNode := veth.Name, l.NodeA
	if kindA == topology.NodeHost {
		rootEnd, rootNode = veth.PeerName, l.NodeB
	}
	e.record(&Record{Kind: RecordLink, Name: rootEnd, Node: rootNode})

	if err := e.attachEnd(ctx, l.NodeA, kindA, ifA, l.IPA); err != nil {
		return err
	}
	if err := e.attachEnd(ctx, l.NodeB, kindB, ifB, l.IPB); err != nil {
		return err
	}

	e.log.Debug("link created", "a", ifA, "b", ifB)
	return nil
}

func (e *Emulator) attachEnd(ctx context.Context, node string, kind topology.NodeType, ifname, cidr string) error {
	switch kind {
	case topology.NodeHost:
		n := e.nodes[node]
		if err := moveToNamespace(ifname, n.NS); err != nil {
			return err
		}

		// The first interface carries the host's own MAC and address.
		mac := ""
		if ifname == n.Host.Intf() {
			mac = n.Host.MAC
			if cidr == "" {
				cidr = n.Host.IP
			}
		}

		hd, err := n.NS.Handle()
		if err != nil {
			return err
		}
		defer hd.Close()
		return configureLink(hd, ifname, mac, cidr)

	case topology.NodeSwitch:
		if err := e.switches[node].AddPort(ctx, ifname); err != nil {
			return err
		}
		return e.configureRoot(ifname, cidr)

	case topology.NodeController:
		return e.configureRoot(ifname, cidr)

	default:
		return fmt.Errorf("unknown node: %s", node)
	}
}

func (e *Emulator) configureRoot(ifname, cidr string) error {
	hd, err := rootHandle()
	if err != nil {
		return err
	}
	defer hd.Close()
	return configureLink(hd, ifname, "", cidr)
}

// AttachInterface adds a physical interface of the machine to a switch.
// Attaching the same interface twice is an error.
func (e *Emulator) AttachInterface(ctx context.Context, ifname, sw string) error {
	if !e.built {
		return ErrNotBuilt
	}
	if e.attached[ifname] {
		return fmt.Errorf("interface %s already attached", ifname)
	}
	dp, ok := e.switches[sw]
	if !ok {
		return fmt.Errorf("unknown switch: %s", sw)
	}

	if err := dp.AddPort(ctx, ifname); err != nil {
		return fmt.Errorf("attach %s to %s: %w", ifname, sw, err)
	}
	e.attached[ifname] = true
	e.record(&Record{Kind: RecordAttachment, Name: ifname, Node: sw})

	e.log.Info("interface attached", "interface", ifname, "switch", sw)
	return nil
}

// Start binds every switch to its controller.
func (e *Emulator) Start(ctx context.Context) error {
	if !e.built {
		return ErrNotBuilt
	}

	for _, sw := range e.topo.Switches {
		c, err := e.topo.ControllerFor(sw)
		if err != nil {
			return err
		}
		if err := e.switches[sw.Name].Start(ctx, c); err != nil {
			return fmt.Errorf("start switch %s: %w", sw.Name, err)
		}
		e.log.Debug("switch started", "switch", sw.Name, "controller", c.Name, "inband", sw.Inband)
	}

	e.started = true
	return nil
}

// Stop removes everything Build created, newest first. It keeps going
// past failures and returns them joined.
func (e *Emulator) Stop(ctx context.Context) error {
	if !e.built {
		return nil
	}

	var errs []error
	for i := len(e.records) - 1; i >= 0; i-- {
		r := e.records[i]
		if err := e.remove(ctx, r); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.store.Delete(r.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete record %s: %w", r.ID, err))
		}
	}

	e.records = nil
	e.nodes = nil
	e.switches = nil
	e.attached = nil
	e.built = false
	e.started = false

	e.log.Info("topology stopped")
	return errors.Join(errs...)
}

func (e *Emulator) remove(ctx context.Context, r *Record) error {
	switch r.Kind {
	case RecordNamespace:
		ns := &Namespace{Name: r.Name, Path: r.Path}
		if _, err := os.Stat(ns.Path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return ns.Delete()
	case RecordLink:
		return deleteLink(r.Name)
	case RecordSwitch:
		dp, err := e.newSwitch(topology.Switch{Name: r.Name, Datapath: topology.Datapath(r.Datapath)})
		if err != nil {
			return err
		}
		return dp.Delete(ctx)
	case RecordPrivateDir:
		return os.RemoveAll(r.Path)
	case RecordAttachment:
		// Released together with its switch.
		return nil
	default:
		return fmt.Errorf("unknown record kind: %s", r.Kind)
	}
}

// Cleanup removes objects left behind by earlier runs, as recorded in
// the state directory.
func (e *Emulator) Cleanup(ctx context.Context) (int, error) {
	records, err := e.store.List()
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}

	var errs []error
	removed := 0
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if err := e.remove(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("remove %s %s: %w", r.Kind, r.Name, err))
			continue
		}
		if err := e.store.Delete(r.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Records lists the objects recorded in the state directory.
func (e *Emulator) Records() ([]*Record, error) {
	return e.store.List()
}

// Node returns the live host called name.
func (e *Emulator) Node(name string) (*Node, error) {
	if !e.built {
		return nil, ErrNotBuilt
	}
	n, ok := e.nodes[name]
	if !ok {
		return nil, fmt.Errorf("unknown host: %s", name)
	}
	return n, nil
}

// Exec runs a shell command on a host and returns its output.
func (e *Emulator) Exec(ctx context.Context, host, command string) (string, error) {
	n, err := e.Node(host)
	if err != nil {
		return "", err
	}
	if e.opts.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ExecTimeout)
		defer cancel()
	}

	e.log.Debug("exec", "host", host, "command", command)
	out, err := n.Exec(ctx, command)
	if out != "" {
		e.log.Debug("output", "host", host, "output", out)
	}
	return out, err
}

// IP returns the IPv4 address currently configured on the host's first
// interface, in CIDR form, or "" if none is configured.
func (e *Emulator) IP(ctx context.Context, host string) (string, error) {
	n, err := e.Node(host)
	if err != nil {
		return "", err
	}

	hd, err := n.NS.Handle()
	if err != nil {
		return "", err
	}
	defer hd.Close()
	return ipv4Of(hd, n.Host.Intf())
}

// AddRoute installs a device route inside a host.
func (e *Emulator) AddRoute(ctx context.Context, host, dst, ifname string) error {
	n, err := e.Node(host)
	if err != nil {
		return err
	}

	hd, err := n.NS.Handle()
	if err != nil {
		return err
	}
	defer hd.Close()
	return addDeviceRoute(hd, dst, ifname)
}

// Ping sends one echo request from host to dst.
func (e *Emulator) Ping(ctx context.Context, host, dst string, timeout time.Duration) (bool, error) {
	n, err := e.Node(host)
	if err != nil {
		return false, err
	}
	return n.Ping(ctx, dst, timeout)
}

// WaitLearned blocks until the switch a host is attached to has learned
// the host's MAC, nudging it with traffic towards the portal, or until
// ctx is done.
func (e *Emulator) WaitLearned(ctx context.Context, host string) error {
	n, err := e.Node(host)
	if err != nil {
		return err
	}
	sw, ok := e.topo.SwitchFor(host)
	if !ok {
		return fmt.Errorf("host %s is not attached to a switch", host)
	}
	dp := e.switches[sw.Name]
	nudge := topology.IPOf(topology.PortalIP)

	ticker := time.NewTicker(e.opts.LearnPoll)
	defer ticker.Stop()

	for {
		if _, err := n.Ping(ctx, nudge, e.opts.LearnPoll); err != nil {
			e.log.Debug("learning nudge failed", "host", host, "error", err)
		}

		learned, err := dp.Learned(ctx, n.Host.MAC)
		if err != nil {
			e.log.Debug("learning check failed", "host", host, "switch", sw.Name, "error", err)
		}
		if learned {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("host %s not learned by %s: %w", host, sw.Name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// RecordedNode rebuilds a host from the state directory, so commands can
// reach a network built by another process.
func (e *Emulator) RecordedNode(host string) (*Node, error) {
	records, err := e.store.List()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	n := &Node{
		Host:        topology.Host{Name: host},
		privateDirs: map[string]string{},
		workDir:     e.opts.WorkDir,
	}
	for _, r := range records {
		if r.Node != host {
			continue
		}
		switch r.Kind {
		case RecordNamespace:
			n.NS = &Namespace{Name: r.Name, Path: r.Path}
		case RecordPrivateDir:
			n.privateDirs[r.Name] = r.Path
			n.Host.PrivateDirs = append(n.Host.PrivateDirs, r.Name)
		}
	}
	if n.NS == nil {
		return nil, fmt.Errorf("no recorded namespace for host %s", host)
	}
	return n, nil
}
