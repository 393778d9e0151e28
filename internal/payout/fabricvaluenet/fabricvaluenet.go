// Package fabricvaluenet is the concrete valuenet.Adapter binding for
// production deployments: it submits payouts as Hyperledger Fabric
// Gateway chaincode calls against a configured channel/chaincode.
package fabricvaluenet

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/HamiGames/Lucid-sub000/internal/valuenet"
)

// Config holds connection parameters for the Fabric Gateway peer.
type Config struct {
	MspID         string
	CertPath      string
	KeyPath       string
	TLSCertPath   string
	PeerEndpoint  string
	GatewayPeer   string
	ChannelName   string
	ChaincodeName string
}

// Adapter is the Fabric-backed valuenet.Adapter.
type Adapter struct {
	cfg      Config
	gateway  *client.Gateway
	grpcConn *grpc.ClientConn
	contract *client.Contract
}

// Connect opens the gRPC connection and the Fabric Gateway session,
// following the teacher's own connection sequence (identity, signer,
// TLS gRPC dial, gateway connect, network/contract lookup).
func Connect(cfg Config) (*Adapter, error) {
	a := &Adapter{cfg: cfg}

	id, err := a.newIdentity()
	if err != nil {
		return nil, fmt.Errorf("fabricvaluenet: create identity: %w", err)
	}
	signer, err := a.newSigner()
	if err != nil {
		return nil, fmt.Errorf("fabricvaluenet: create signer: %w", err)
	}
	conn, err := a.newGrpcConnection()
	if err != nil {
		return nil, fmt.Errorf("fabricvaluenet: dial gateway peer: %w", err)
	}
	a.grpcConn = conn

	gw, err := client.Connect(id,
		client.WithSign(signer),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(5*time.Second),
		client.WithEndorseTimeout(15*time.Second),
		client.WithSubmitTimeout(5*time.Second),
		client.WithCommitStatusTimeout(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("fabricvaluenet: connect gateway: %w", err)
	}
	a.gateway = gw
	a.contract = gw.GetNetwork(cfg.ChannelName).GetContract(cfg.ChaincodeName)
	return a, nil
}

// Close releases the gateway session and its gRPC connection.
func (a *Adapter) Close() {
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.grpcConn != nil {
		a.grpcConn.Close()
	}
}

func (a *Adapter) newIdentity() (*identity.X509Identity, error) {
	pem, err := os.ReadFile(a.cfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	cert, err := identity.CertificateFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return identity.NewX509Identity(a.cfg.MspID, cert)
}

func (a *Adapter) newSigner() (identity.Sign, error) {
	pem, err := os.ReadFile(a.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return identity.NewPrivateKeySign(key)
}

func (a *Adapter) newGrpcConnection() (*grpc.ClientConn, error) {
	cert, err := os.ReadFile(a.cfg.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("read TLS certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(cert) {
		return nil, fmt.Errorf("append TLS certificate to pool")
	}
	creds := credentials.NewClientTLSFromCert(pool, a.cfg.GatewayPeer)
	return grpc.Dial(a.cfg.PeerEndpoint, grpc.WithTransportCredentials(creds))
}

// SendUSDT submits a SendUSDT chaincode transaction, following the
// teacher's own SubmitTransaction idiom, and returns the chaincode's
// reported transaction hash.
func (a *Adapter) SendUSDT(ctx context.Context, to string, amount float64) (string, error) {
	result, err := a.contract.SubmitTransaction("SendUSDT", to, strconv.FormatFloat(amount, 'f', -1, 64))
	if err != nil {
		return "", fmt.Errorf("fabricvaluenet: submit SendUSDT transaction: %w", err)
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("fabricvaluenet: unmarshal SendUSDT result: %w", err)
	}
	return out.TxHash, nil
}

// GetAccountBalance evaluates the chaincode's GetAccountBalance query.
func (a *Adapter) GetAccountBalance(ctx context.Context, address string) (valuenet.AccountBalance, error) {
	result, err := a.contract.EvaluateTransaction("GetAccountBalance", address)
	if err != nil {
		return valuenet.AccountBalance{}, fmt.Errorf("fabricvaluenet: evaluate GetAccountBalance: %w", err)
	}
	var bal valuenet.AccountBalance
	if err := json.Unmarshal(result, &bal); err != nil {
		return valuenet.AccountBalance{}, fmt.Errorf("fabricvaluenet: unmarshal GetAccountBalance result: %w", err)
	}
	return bal, nil
}

// GetTransactionStatus evaluates the chaincode's GetTransactionStatus
// function, the same way every other read-only call in this adapter is.
func (a *Adapter) GetTransactionStatus(ctx context.Context, txHash string) (valuenet.TxStatus, error) {
	result, err := a.contract.EvaluateTransaction("GetTransactionStatus", txHash)
	if err != nil {
		return "", fmt.Errorf("fabricvaluenet: evaluate GetTransactionStatus: %w", err)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("fabricvaluenet: unmarshal GetTransactionStatus result: %w", err)
	}
	return valuenet.TxStatus(out.Status), nil
}

// EstimateFee evaluates the chaincode's EstimateFee query.
func (a *Adapter) EstimateFee(ctx context.Context, to string, amount float64) (float64, error) {
	result, err := a.contract.EvaluateTransaction("EstimateFee", to, strconv.FormatFloat(amount, 'f', -1, 64))
	if err != nil {
		return 0, fmt.Errorf("fabricvaluenet: evaluate EstimateFee: %w", err)
	}
	fee, err := strconv.ParseFloat(string(result), 64)
	if err != nil {
		return 0, fmt.Errorf("fabricvaluenet: parse EstimateFee result: %w", err)
	}
	return fee, nil
}

var _ valuenet.Adapter = (*Adapter)(nil)
