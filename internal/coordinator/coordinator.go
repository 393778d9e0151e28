package coordinator

import (
	"context"

	"google.golang.org/grpc/health"

	"github.com/HamiGames/Lucid-sub000/internal/config"
	"github.com/HamiGames/Lucid-sub000/internal/credits"
	"github.com/HamiGames/Lucid-sub000/internal/flags"
	"github.com/HamiGames/Lucid-sub000/internal/governance"
	"github.com/HamiGames/Lucid-sub000/internal/httpapi"
	"github.com/HamiGames/Lucid-sub000/internal/overlay"
	"github.com/HamiGames/Lucid-sub000/internal/payout"
	"github.com/HamiGames/Lucid-sub000/internal/peer"
	"github.com/HamiGames/Lucid-sub000/internal/pool"
	"github.com/HamiGames/Lucid-sub000/internal/poot"
	"github.com/HamiGames/Lucid-sub000/internal/registration"
	"github.com/HamiGames/Lucid-sub000/internal/shard"
	"github.com/HamiGames/Lucid-sub000/internal/sigverify"
	"github.com/HamiGames/Lucid-sub000/internal/store"
	"github.com/HamiGames/Lucid-sub000/internal/sync"
	"github.com/HamiGames/Lucid-sub000/internal/valuenet"
)

// Daemon bundles every component engine, the HTTP control surface,
// and the supervisor running their background loops.
type Daemon struct {
	Cfg *config.Config

	Peers        *peer.Directory
	Credits      *credits.Engine
	PoOT         *poot.Engine
	Flags        *flags.Engine
	Governance   *governance.Engine
	Pool         *pool.Engine
	Registration *registration.Engine
	Shard        *shard.Engine
	Sync         *sync.Engine
	Payout       *payout.Engine

	HTTP *httpapi.Server

	supervisor *Supervisor
}

// allowedRegistrationRoles are the peer roles the Registration
// Protocol will admit; admin and dev nodes are provisioned out of
// band, never through the public registration flow.
var allowedRegistrationRoles = []peer.Role{peer.RoleWorker, peer.RoleServer}

// New wires every component over st, using ovl for overlay calls and
// network for value-network settlement. sig is the signature
// verifier used by both Work Credits proof submission and
// Registration's challenge-response check.
func New(cfg *config.Config, st store.Adapter, ovl overlay.Client, network valuenet.Adapter, sig sigverify.Verifier) *Daemon {
	peers := peer.New(st, ovl, cfg.PeerActiveHorizon, cfg.PeerStaleTimeout, cfg.PeerPingInterval, cfg.BootstrapPeers)

	creditsEngine := credits.New(st, sig, cfg.EpochZero, cfg.SlotDuration, cfg.WindowDays)

	pootEngine := poot.New(st, sig, network, cfg.PootChallengeValidity, cfg.PootProofCacheTTL, cfg.MinTokenStake, cfg.ChallengeComplexityBytes)

	flagsEngine := flags.New(st, metricsProvider{dir: peers, overlay: ovl}, cfg.MaxFlagsPerNode, cfg.FlagEscalationHigh, cfg.FlagEscalationLow)

	governanceEngine := governance.New(st, peerSource{dir: peers}, stakeSource{poot: pootEngine},
		creditsSource{credits: creditsEngine, windowDays: cfg.WindowDays},
		cfg.DiscussionDuration, cfg.VoteDuration, cfg.DelegateExpiry, cfg.MinQuorum, cfg.MaxActiveProposals)

	poolEngine := pool.New(st, creditsSource{credits: creditsEngine, windowDays: cfg.WindowDays}, cfg.RewardThreshold, cfg.PoolSyncInterval)

	registrationEngine := registration.New(st, peers, pootEngine, sig,
		cfg.MinRegistrationStake, allowedRegistrationRoles, cfg.RegistrationTimeout, cfg.ChallengeValidity, []byte(cfg.JWTSecret))

	shardEngine := shard.New(st, ovl, cfg.IPFSAPIURL, cfg.ReplicationFactor, cfg.MaxShardsPerNode, cfg.RebalanceMaxPerPass)

	syncEngine := sync.New(st, cfg.NodeID, cfg.SyncHeartbeat, cfg.OperatorTimeout, cfg.OperationBatchSize, cfg.MaxSyncRetries, health.NewServer())

	payoutEngine := payout.New(st, network, cfg.MinPayout, cfg.MaxPayout, cfg.PayoutThreshold, cfg.PayoutFeePct,
		cfg.PayoutBatchSize, cfg.MaxPayoutBatchAmount)

	d := &Daemon{
		Cfg:          cfg,
		Peers:        peers,
		Credits:      creditsEngine,
		PoOT:         pootEngine,
		Flags:        flagsEngine,
		Governance:   governanceEngine,
		Pool:         poolEngine,
		Registration: registrationEngine,
		Shard:        shardEngine,
		Sync:         syncEngine,
		Payout:       payoutEngine,
		supervisor:   NewSupervisor(),
	}

	d.HTTP = &httpapi.Server{
		Cfg:          cfg,
		Peers:        peers,
		Credits:      creditsEngine,
		PoOT:         pootEngine,
		Flags:        flagsEngine,
		Governance:   governanceEngine,
		Pool:         poolEngine,
		Registration: registrationEngine,
		Shard:        shardEngine,
		Sync:         syncEngine,
		Payout:       payoutEngine,
	}

	d.registerLoops()
	return d
}

// registerLoops names every background loop named across spec.md §4
// and schedules it on the supervisor; none of them run until Start.
func (d *Daemon) registerLoops() {
	cfg := d.Cfg

	d.supervisor.Add("peer-ping", d.Peers.RunPingLoop)
	d.supervisor.Add("flags-monitor", func(ctx context.Context) { d.Flags.RunMonitorLoop(ctx, cfg.FlagSyncInterval) })
	d.supervisor.Add("governance-lifecycle", func(ctx context.Context) { d.Governance.RunLifecycleLoop(ctx, cfg.GovernanceSweepInterval) })
	d.supervisor.Add("pool-maintenance", func(ctx context.Context) { d.Pool.RunMaintenanceLoop(ctx, cfg.PoolSyncInterval) })
	d.supervisor.Add("pool-reward-sweep", func(ctx context.Context) { d.Pool.RunRewardSweepLoop(ctx, cfg.PoolSyncInterval*10) })
	d.supervisor.Add("registration-timeout-sweep", func(ctx context.Context) { d.Registration.RunTimeoutSweepLoop(ctx, cfg.RegistrationTimeout/2) })
	d.supervisor.Add("shard-health-check", func(ctx context.Context) { d.Shard.RunHealthCheckLoop(ctx, cfg.HealthCheckInterval) })
	d.supervisor.Add("shard-integrity-check", func(ctx context.Context) { d.Shard.RunIntegrityCheckLoop(ctx, cfg.PerformanceWindow) })
	d.supervisor.Add("shard-rebalance", func(ctx context.Context) { d.Shard.RunRebalanceLoop(ctx, cfg.MaintenanceWindow) })
	d.supervisor.Add("shard-optimization", func(ctx context.Context) { d.Shard.RunOptimizationLoop(ctx, cfg.PerformanceWindow) })
	d.supervisor.Add("sync-heartbeat-sweep", func(ctx context.Context) { d.Sync.RunHeartbeatSweepLoop(ctx, cfg.SyncHeartbeat) })
	d.supervisor.Add("sync-operation-queue", func(ctx context.Context) { d.Sync.RunOperationQueueLoop(ctx, cfg.SyncHeartbeat) })
	d.supervisor.Add("payout-process-pending", func(ctx context.Context) { d.Payout.RunProcessPendingLoop(ctx, cfg.PayoutProcessInterval) })
}

// Start rebuilds the peer index, bootstraps configured peers, and
// runs every background loop until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Peers.LoadIndex(ctx); err != nil {
		return err
	}
	d.Peers.BootstrapOnce(ctx)
	d.supervisor.Run(ctx)
	return nil
}

// Wait blocks until every background loop has exited.
func (d *Daemon) Wait() {
	d.supervisor.Wait()
}
