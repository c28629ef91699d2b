package telemetry

import "log/slog"

func DestinationAttr(name string) slog.Attr    { return slog.String("destination", name) }
func PartitionAttr(id string) slog.Attr        { return slog.String("partition_id", id) }
func MessageIDAttr(id string) slog.Attr        { return slog.String("message_id", id) }
func ConsumerGroupAttr(group string) slog.Attr { return slog.String("consumer_group", group) }
func ModeAttr(mode string) slog.Attr           { return slog.String("checkpoint_mode", mode) }

func ErrAttr(err error) slog.Attr { return slog.Any("error", err) }
