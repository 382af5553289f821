package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const (
	AuthServiceName   = "splitledger.v1.AuthService"
	PeerServiceName   = "splitledger.v1.PeerService"
	NotaryServiceName = "splitledger.v1.NotaryService"

	AuthServiceLoginProcedure              = "/splitledger.v1.AuthService/Login"
	PeerServiceReceiveTransactionProcedure = "/splitledger.v1.PeerService/ReceiveTransaction"
	PeerServiceGetTransactionProcedure     = "/splitledger.v1.PeerService/GetTransaction"
	NotaryServiceFinalizeProcedure         = "/splitledger.v1.NotaryService/Finalize"
)

// AuthServiceHandler issues operator tokens.
type AuthServiceHandler interface {
	Login(context.Context, *connect.Request[LoginRequest]) (*connect.Response[LoginResponse], error)
}

// PeerServiceHandler accepts finalized transactions from other parties and
// serves recorded ones to parties catching up.
type PeerServiceHandler interface {
	ReceiveTransaction(context.Context, *connect.Request[ReceiveTransactionRequest]) (*connect.Response[ReceiveTransactionResponse], error)
	GetTransaction(context.Context, *connect.Request[GetTransactionRequest]) (*connect.Response[GetTransactionResponse], error)
}

// NotaryServiceHandler finalizes transactions.
type NotaryServiceHandler interface {
	Finalize(context.Context, *connect.Request[FinalizeRequest]) (*connect.Response[FinalizeResponse], error)
}

func NewAuthServiceHandler(svc AuthServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return serviceMux(AuthServiceName, map[string]http.Handler{
		AuthServiceLoginProcedure: connect.NewUnaryHandler(AuthServiceLoginProcedure, svc.Login, opts...),
	})
}

func NewPeerServiceHandler(svc PeerServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return serviceMux(PeerServiceName, map[string]http.Handler{
		PeerServiceReceiveTransactionProcedure: connect.NewUnaryHandler(PeerServiceReceiveTransactionProcedure, svc.ReceiveTransaction, opts...),
		PeerServiceGetTransactionProcedure:     connect.NewUnaryHandler(PeerServiceGetTransactionProcedure, svc.GetTransaction, opts...),
	})
}

func NewNotaryServiceHandler(svc NotaryServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return serviceMux(NotaryServiceName, map[string]http.Handler{
		NotaryServiceFinalizeProcedure: connect.NewUnaryHandler(NotaryServiceFinalizeProcedure, svc.Finalize, opts...),
	})
}

// AuthServiceClient is a client for the AuthService.
type AuthServiceClient struct {
	login *connect.Client[LoginRequest, LoginResponse]
}

func NewAuthServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AuthServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &AuthServiceClient{
		login: connect.NewClient[LoginRequest, LoginResponse](httpClient, baseURL+AuthServiceLoginProcedure, clientOptions(opts)...),
	}
}

func (c *AuthServiceClient) Login(ctx context.Context, req *connect.Request[LoginRequest]) (*connect.Response[LoginResponse], error) {
	return c.login.CallUnary(ctx, req)
}

// PeerServiceClient is a client for the PeerService.
type PeerServiceClient struct {
	receiveTransaction *connect.Client[ReceiveTransactionRequest, ReceiveTransactionResponse]
	getTransaction     *connect.Client[GetTransactionRequest, GetTransactionResponse]
}

func NewPeerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *PeerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &PeerServiceClient{
		receiveTransaction: connect.NewClient[ReceiveTransactionRequest, ReceiveTransactionResponse](httpClient, baseURL+PeerServiceReceiveTransactionProcedure, clientOptions(opts)...),
		getTransaction:     connect.NewClient[GetTransactionRequest, GetTransactionResponse](httpClient, baseURL+PeerServiceGetTransactionProcedure, clientOptions(opts)...),
	}
}

func (c *PeerServiceClient) ReceiveTransaction(ctx context.Context, req *connect.Request[ReceiveTransactionRequest]) (*connect.Response[ReceiveTransactionResponse], error) {
	return c.receiveTransaction.CallUnary(ctx, req)
}

func (c *PeerServiceClient) GetTransaction(ctx context.Context, req *connect.Request[GetTransactionRequest]) (*connect.Response[GetTransactionResponse], error) {
	return c.getTransaction.CallUnary(ctx, req)
}

// NotaryServiceClient is a client for the NotaryService.
type NotaryServiceClient struct {
	finalize *connect.Client[FinalizeRequest, FinalizeResponse]
}

func NewNotaryServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *NotaryServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &NotaryServiceClient{
		finalize: connect.NewClient[FinalizeRequest, FinalizeResponse](httpClient, baseURL+NotaryServiceFinalizeProcedure, clientOptions(opts)...),
	}
}

func (c *NotaryServiceClient) Finalize(ctx context.Context, req *connect.Request[FinalizeRequest]) (*connect.Response[FinalizeResponse], error) {
	return c.finalize.CallUnary(ctx, req)
}
