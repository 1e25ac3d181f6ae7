package redis

import (
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence"
	"github.com/jarabaimpact/agentflow/util"
)

// Storage is the redis backed implementation. All keys live under the
// configured namespace; execution, step log and approval records are JSON
// encoded through the shared codec.
type Storage struct {
	executions *executionDao
	stepLogs   *stepLogDao
	approvals  *approvalDao
	metadata   *metadataDao
}

var _ persistence.Storage = new(Storage)

func NewStorage(conf Config) *Storage {
	dao := newBaseDao(conf)
	return &Storage{
		executions: &executionDao{
			baseDao: dao,
			encDec:  util.NewJsonEncoderDecoder[model.Execution](),
		},
		stepLogs: &stepLogDao{
			baseDao: dao,
			encDec:  util.NewJsonEncoderDecoder[model.StepLog](),
		},
		approvals: &approvalDao{
			baseDao: dao,
			encDec:  util.NewJsonEncoderDecoder[model.Approval](),
		},
		metadata: &metadataDao{
			baseDao:     dao,
			agentEncDec: util.NewJsonEncoderDecoder[model.Agent](),
			flowEncDec:  util.NewJsonEncoderDecoder[model.Flow](),
		},
	}
}

func (s *Storage) Executions() persistence.ExecutionStorage { return s.executions }
func (s *Storage) StepLogs() persistence.StepLogStorage     { return s.stepLogs }
func (s *Storage) Approvals() persistence.ApprovalStorage   { return s.approvals }
func (s *Storage) Metadata() persistence.MetadataStorage    { return s.metadata }
