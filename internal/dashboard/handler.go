package dashboard

import (
	"encoding/json"
	"time"

	"github.com/prefsync/prefsync/internal/userdata"
)

// subscribe wires the sync service's observers to the broadcast channel.
// Each transition on the service becomes one dashboard message.
func (s *Server) subscribe() {
	s.removers = append(s.removers,
		s.svc.OnStatusChange(func(status userdata.SyncStatus) {
			s.send(MessageTypeStatus, StatusData{Status: status.String()})
		}),
		s.svc.OnConflictsChange(func(sources []userdata.SyncSource) {
			s.send(MessageTypeConflicts, ConflictsData{Sources: sourceStrings(sources)})
		}),
		s.svc.OnSyncErrors(func(errs []userdata.SyncError) {
			data := SyncErrorsData{Errors: make([]SyncErrorData, len(errs))}
			for i, e := range errs {
				data.Errors[i] = SyncErrorData{
					Source:  string(e.Source),
					Message: e.Err.Error(),
				}
			}
			s.send(MessageTypeSyncErrors, data)
		}),
		s.svc.OnLastSyncTimeChange(func(at time.Time) {
			s.send(MessageTypeLastSync, LastSyncData{LastSyncTime: at})
		}),
		s.svc.OnLocalChange(func(src userdata.SyncSource) {
			s.send(MessageTypeLocalChange, LocalChangeData{Source: string(src)})
		}),
	)
}

// send marshals the payload and queues it for broadcast.
func (s *Server) send(msgType MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("Failed to marshal %s payload: %v", msgType, err)
		return
	}
	s.Broadcast(Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	})
}
