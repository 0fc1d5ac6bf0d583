package controlapi

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"matterctl/internal/matter/merr"
)

// toGRPCError maps the controller's closed error taxonomy onto grpc status
// codes, following the teacher's toGRPCError (internal/daemon/server/errors.go).
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	var me *merr.Error
	if errors.As(err, &me) {
		switch me.Kind {
		case merr.KindUnknownPeer:
			return status.Error(codes.NotFound, err.Error())
		case merr.KindNotConnected:
			return status.Error(codes.Unavailable, err.Error())
		case merr.KindTransient:
			return status.Error(codes.Unavailable, err.Error())
		case merr.KindConstraint:
			return status.Error(codes.FailedPrecondition, err.Error())
		case merr.KindProtocolFlow:
			return status.Error(codes.Internal, err.Error())
		case merr.KindInternal:
			return status.Error(codes.Internal, err.Error())
		}
	}

	return status.Error(codes.Internal, err.Error())
}
