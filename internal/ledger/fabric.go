package ledger

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/hash"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/shreyes-7/AyurTrack-sub001/internal/config"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// Fabric reaches the contract through a Fabric Gateway peer. The gRPC
// connection is shared; every session opens its own gateway.
type Fabric struct {
	cfg        config.LedgerConfig
	identities map[string]config.IdentityConfig
	conn       *grpc.ClientConn
	logger     *slog.Logger
}

func NewFabric(cfg config.LedgerConfig, identities map[string]config.IdentityConfig, logger *slog.Logger) (*Fabric, error) {
	tlsPEM, err := readPEM(cfg.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read TLS certificate: %w", err)
	}
	tlsCert, err := identity.CertificateFromPEM(tlsPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TLS certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(tlsCert)
	creds := credentials.NewClientTLSFromCert(pool, cfg.GatewayPeer)

	conn, err := grpc.NewClient(cfg.PeerEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to %s: %w", cfg.PeerEndpoint, err)
	}
	return &Fabric{cfg: cfg, identities: identities, conn: conn, logger: logger}, nil
}

func (f *Fabric) Connect(ctx context.Context, mspID string) (Session, error) {
	idCfg, ok := f.identities[mspID]
	if !ok {
		return nil, domain.Unauthorized("no enrolment configured for organization %s", mspID)
	}
	certPEM, err := readPEM(idCfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate for %s: %w", mspID, err)
	}
	cert, err := identity.CertificateFromPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate for %s: %w", mspID, err)
	}
	id, err := identity.NewX509Identity(mspID, cert)
	if err != nil {
		return nil, err
	}
	keyPEM, err := readPEM(idCfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key for %s: %w", mspID, err)
	}
	key, err := identity.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key for %s: %w", mspID, err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, err
	}

	gw, err := client.Connect(id,
		client.WithSign(sign),
		client.WithHash(hash.SHA256),
		client.WithClientConnection(f.conn),
		client.WithEvaluateTimeout(f.cfg.EvaluateTimeout),
		client.WithEndorseTimeout(f.cfg.EndorseTimeout),
		client.WithSubmitTimeout(f.cfg.SubmitTimeout),
		client.WithCommitStatusTimeout(f.cfg.CommitTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect gateway as %s: %w", mspID, err)
	}
	contract := gw.GetNetwork(f.cfg.Channel).GetContract(f.cfg.Chaincode)
	return &fabricSession{gw: gw, contract: contract, mspID: mspID, logger: f.logger}, nil
}

func (f *Fabric) Close() error {
	return f.conn.Close()
}

type fabricSession struct {
	gw       *client.Gateway
	contract *client.Contract
	mspID    string
	logger   *slog.Logger
}

func (s *fabricSession) Submit(ctx context.Context, fn string, args ...string) (Result, error) {
	proposal, err := s.contract.NewProposal(fn, client.WithArguments(args...))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create proposal %s: %w", fn, err)
	}
	tx, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		return Result{}, err
	}
	commit, err := tx.SubmitWithContext(ctx)
	if err != nil {
		return Result{}, err
	}
	st, err := commit.StatusWithContext(ctx)
	if err != nil {
		return Result{TxID: tx.TransactionID()}, err
	}
	if !st.Successful {
		code := st.Code.String()
		s.logger.Warn("transaction not committed", "function", fn, "txId", st.TransactionID, "code", code)
		switch code {
		case "MVCC_READ_CONFLICT", "PHANTOM_READ_CONFLICT":
			return Result{TxID: st.TransactionID}, domain.LedgerUnavailable("transaction %s failed to commit: %s", st.TransactionID, code)
		}
		return Result{TxID: st.TransactionID}, fmt.Errorf("transaction %s failed to commit: %s", st.TransactionID, code)
	}
	s.logger.Debug("transaction committed", "function", fn, "txId", st.TransactionID, "block", st.BlockNumber, "msp", s.mspID)
	return Result{TxID: st.TransactionID, Payload: tx.Result()}, nil
}

func (s *fabricSession) Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error) {
	return s.contract.EvaluateWithContext(ctx, fn, client.WithArguments(args...))
}

func (s *fabricSession) Close() error {
	return s.gw.Close()
}

// readPEM reads path, or the first file in path when it is a directory
// (the layout of an MSP keystore).
func readPEM(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				return os.ReadFile(filepath.Join(path, e.Name()))
			}
		}
		return nil, fmt.Errorf("no files in %s", path)
	}
	return os.ReadFile(path)
}
