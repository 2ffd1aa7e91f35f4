package domain

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ValidateEvent checks the shape of an incoming MutationEvent before it
// is handed to the merge engine. Failures wrap ErrValidation and must
// not cause any state change.
func ValidateEvent(ev *MutationEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: empty event", ErrValidation)
	}

	err := validation.ValidateStruct(ev,
		validation.Field(&ev.Type, validation.Required, validation.In(
			MutationCreate, MutationUpdate, MutationMove, MutationDelete, MutationReorder)),
		validation.Field(&ev.OriginDeviceID, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	switch ev.Type {
	case MutationReorder:
		if len(ev.Reorder) == 0 {
			return fmt.Errorf("%w: reorder batch is empty", ErrValidation)
		}
		for _, entry := range ev.Reorder {
			if entry.NativeID == "" {
				return fmt.Errorf("%w: reorder entry without nativeId", ErrValidation)
			}
			if entry.Position < 0 {
				return fmt.Errorf("%w: negative reorder position for %s", ErrValidation, entry.NativeID)
			}
		}
	default:
		if ev.Node == nil {
			return fmt.Errorf("%w: %s event without node payload", ErrValidation, ev.Type)
		}
		if ev.Node.NativeID == "" {
			return fmt.Errorf("%w: node without nativeId", ErrValidation)
		}
	}

	if ev.Type == MutationCreate {
		if err := validation.ValidateStruct(ev.Node,
			validation.Field(&ev.Node.URL, validation.Required.When(!ev.Node.IsFolder).Error("links require a url")),
			validation.Field(&ev.Node.URL, validation.Empty.When(ev.Node.IsFolder).Error("folders cannot carry a url")),
		); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	return nil
}
