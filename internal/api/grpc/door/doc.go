// Package door implements the gRPC transport for the door lock.
//
// The door.v1.DoorService is described by a hand-written grpc.ServiceDesc over
// protobuf well-known types, so no generated code is needed: Unlock and Lock
// take the requester as a StringValue, GetStatus takes Empty, and all three
// return the state as a Struct. Watch streams door_status events as Structs.
package door
