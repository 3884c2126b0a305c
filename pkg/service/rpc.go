package service

import (
	"github.com/gorilla/rpc"
	gorillajson "github.com/gorilla/rpc/json"
)

func CreateRPCServer() (*rpc.Server, error) {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(gorillajson.NewCodec(), "application/json")
	err := rpcServer.RegisterTCPService(&globalCompanionService, "companion")
	return rpcServer, err
}
