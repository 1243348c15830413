package lxp

import (
	"fmt"
	"time"
)

// Input register banks arrive in blocks of 40.
const (
	BankSize  uint16 = 40
	bankCount        = 4
)

// TelemetryRecord is the flat, fully-scaled reading assembled from all
// four input register banks of one inverter.
type TelemetryRecord struct {
	Status        int64   `json:"status"`
	VPv           float64 `json:"v_pv"`
	VPv1          float64 `json:"v_pv_1"`
	VPv2          float64 `json:"v_pv_2"`
	VPv3          float64 `json:"v_pv_3"`
	VBat          float64 `json:"v_bat"`
	Soc           int64   `json:"soc"`
	Soh           int64   `json:"soh"`
	InternalFault int64   `json:"internal_fault"`
	PPv           int64   `json:"p_pv"`
	PPv1          int64   `json:"p_pv_1"`
	PPv2          int64   `json:"p_pv_2"`
	PPv3          int64   `json:"p_pv_3"`
	PBattery      int64   `json:"p_battery"`
	PCharge       int64   `json:"p_charge"`
	PDischarge    int64   `json:"p_discharge"`
	VAcR          float64 `json:"v_ac_r"`
	VAcS          float64 `json:"v_ac_s"`
	VAcT          float64 `json:"v_ac_t"`
	FAc           float64 `json:"f_ac"`
	PInv          int64   `json:"p_inv"`
	PRec          int64   `json:"p_rec"`
	Pf            float64 `json:"pf"`
	VEpsR         float64 `json:"v_eps_r"`
	VEpsS         float64 `json:"v_eps_s"`
	VEpsT         float64 `json:"v_eps_t"`
	FEps          float64 `json:"f_eps"`
	PEps          int64   `json:"p_eps"`
	SEps          int64   `json:"s_eps"`
	PGrid         int64   `json:"p_grid"`
	PToGrid       int64   `json:"p_to_grid"`
	PToUser       int64   `json:"p_to_user"`
	EPvDay        float64 `json:"e_pv_day"`
	EPvDay1       float64 `json:"e_pv_day_1"`
	EPvDay2       float64 `json:"e_pv_day_2"`
	EPvDay3       float64 `json:"e_pv_day_3"`
	EInvDay       float64 `json:"e_inv_day"`
	ERecDay       float64 `json:"e_rec_day"`
	EChgDay       float64 `json:"e_chg_day"`
	EDischgDay    float64 `json:"e_dischg_day"`
	EEpsDay       float64 `json:"e_eps_day"`
	EToGridDay    float64 `json:"e_to_grid_day"`
	EToUserDay    float64 `json:"e_to_user_day"`
	VBus1         float64 `json:"v_bus_1"`
	VBus2         float64 `json:"v_bus_2"`

	EPvAll     float64 `json:"e_pv_all"`
	EPvAll1    float64 `json:"e_pv_all_1"`
	EPvAll2    float64 `json:"e_pv_all_2"`
	EPvAll3    float64 `json:"e_pv_all_3"`
	EInvAll    float64 `json:"e_inv_all"`
	ERecAll    float64 `json:"e_rec_all"`
	EChgAll    float64 `json:"e_chg_all"`
	EDischgAll float64 `json:"e_dischg_all"`
	EEpsAll    float64 `json:"e_eps_all"`
	EToGridAll float64 `json:"e_to_grid_all"`
	EToUserAll float64 `json:"e_to_user_all"`

	FaultCode   int64 `json:"fault_code"`
	WarningCode int64 `json:"warning_code"`

	TInner  int64 `json:"t_inner"`
	TRad1   int64 `json:"t_rad_1"`
	TRad2   int64 `json:"t_rad_2"`
	TBat    int64 `json:"t_bat"`
	Runtime int64 `json:"runtime"`

	MaxChgCurr       float64 `json:"max_chg_curr"`
	MaxDischgCurr    float64 `json:"max_dischg_curr"`
	ChargeVoltRef    float64 `json:"charge_volt_ref"`
	DischgCutVolt    float64 `json:"dischg_cut_volt"`
	BatStatus0       int64   `json:"bat_status_0"`
	BatStatus1       int64   `json:"bat_status_1"`
	BatStatus2       int64   `json:"bat_status_2"`
	BatStatus3       int64   `json:"bat_status_3"`
	BatStatus4       int64   `json:"bat_status_4"`
	BatStatus5       int64   `json:"bat_status_5"`
	BatStatus6       int64   `json:"bat_status_6"`
	BatStatus7       int64   `json:"bat_status_7"`
	BatStatus8       int64   `json:"bat_status_8"`
	BatStatus9       int64   `json:"bat_status_9"`
	BatStatusInv     int64   `json:"bat_status_inv"`
	BatCount         int64   `json:"bat_count"`
	BatCapacity      int64   `json:"bat_capacity"`
	BatCurrent       float64 `json:"bat_current"`
	BmsEvent1        int64   `json:"bms_event_1"`
	BmsEvent2        int64   `json:"bms_event_2"`
	MaxCellVoltage   float64 `json:"max_cell_voltage"`
	MinCellVoltage   float64 `json:"min_cell_voltage"`
	MaxCellTemp      float64 `json:"max_cell_temp"`
	MinCellTemp      float64 `json:"min_cell_temp"`
	BmsFwUpdateState int64   `json:"bms_fw_update_state"`
	CycleCount       int64   `json:"cycle_count"`
	VBatInv          float64 `json:"vbat_inv"`

	VGen      float64 `json:"v_gen"`
	FGen      float64 `json:"f_gen"`
	PGen      int64   `json:"p_gen"`
	EGenDay   float64 `json:"e_gen_day"`
	EGenAll   float64 `json:"e_gen_all"`
	VEpsL1    float64 `json:"v_eps_l1"`
	VEpsL2    float64 `json:"v_eps_l2"`
	PEpsL1    int64   `json:"p_eps_l1"`
	PEpsL2    int64   `json:"p_eps_l2"`
	SEpsL1    int64   `json:"s_eps_l1"`
	SEpsL2    int64   `json:"s_eps_l2"`
	EEpsL1Day float64 `json:"e_eps_l1_day"`
	EEpsL2Day float64 `json:"e_eps_l2_day"`
	EEpsL1All float64 `json:"e_eps_l1_all"`
	EEpsL2All float64 `json:"e_eps_l2_all"`

	Time    int64  `json:"time"`
	Datalog Serial `json:"datalog"`
}

// InputAssembler collects per-datalog input banks until a full set of
// four is present, then emits one TelemetryRecord and resets.
type InputAssembler struct {
	buckets map[Serial]*inputBucket

	// Now stamps completed records; swapped out in tests.
	Now func() time.Time
}

type inputBucket struct {
	registers map[uint16]uint16
	banks     [bankCount]bool
}

func NewInputAssembler() *InputAssembler {
	return &InputAssembler{
		buckets: make(map[Serial]*inputBucket),
		Now:     time.Now,
	}
}

// Feed stores one ReadInput reply. It returns a complete record when td
// closed out the fourth bank, or nil when more banks are still needed.
// Replies that do not start on a bank boundary are ignored.
func (a *InputAssembler) Feed(td TranslatedData) (*TelemetryRecord, error) {
	if td.DeviceFunction != ReadInput {
		return nil, fmt.Errorf("assembler fed a %s packet", td.DeviceFunction)
	}

	bank, ok := bankIndex(td.Register)
	if !ok {
		return nil, nil
	}

	bucket := a.buckets[td.Datalog]
	if bucket == nil {
		bucket = &inputBucket{registers: make(map[uint16]uint16, bankCount*int(BankSize))}
		a.buckets[td.Datalog] = bucket
	}

	// a redelivered bank just overwrites its own registers
	for _, pair := range td.Pairs() {
		bucket.registers[pair.Register] = pair.Value
	}
	bucket.banks[bank] = true

	for _, present := range bucket.banks {
		if !present {
			return nil, nil
		}
	}

	record, err := buildTelemetryRecord(bucket.registers, td.Datalog, a.Now().Unix())
	delete(a.buckets, td.Datalog)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func bankIndex(register uint16) (int, bool) {
	if register%BankSize != 0 || register >= BankSize*bankCount {
		return 0, false
	}
	return int(register / BankSize), true
}

func buildTelemetryRecord(registers map[uint16]uint16, datalog Serial, now int64) (*TelemetryRecord, error) {
	get := func(r uint16) (uint16, error) {
		v, ok := registers[r]
		if !ok {
			return 0, fmt.Errorf("input bank incomplete: register %d missing", r)
		}
		return v, nil
	}

	var firstErr error
	reg := func(r uint16) int64 {
		v, err := get(r)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return int64(v)
	}
	reg32 := func(r uint16) int64 {
		return reg(r) | reg(r+1)<<16
	}
	f10 := func(r uint16) float64 { return float64(reg(r)) / 10.0 }
	f100 := func(r uint16) float64 { return float64(reg(r)) / 100.0 }
	f1000 := func(r uint16) float64 { return float64(reg(r)) / 1000.0 }
	f32_10 := func(r uint16) float64 { return float64(reg32(r)) / 10.0 }

	t := &TelemetryRecord{
		Status:        reg(0),
		VPv1:          f10(1),
		VPv2:          f10(2),
		VPv3:          f10(3),
		VBat:          f10(4),
		Soc:           reg(5) & 0xff,
		Soh:           reg(5) >> 8,
		InternalFault: reg(6),
		PPv1:          reg(7),
		PPv2:          reg(8),
		PPv3:          reg(9),
		PCharge:       reg(10),
		PDischarge:    reg(11),
		VAcR:          f10(12),
		VAcS:          f10(13),
		VAcT:          f10(14),
		FAc:           f100(15),
		PInv:          reg(16),
		PRec:          reg(17),
		Pf:            f1000(19),
		VEpsR:         f10(20),
		VEpsS:         f10(21),
		VEpsT:         f10(22),
		FEps:          f100(23),
		PEps:          reg(24),
		SEps:          reg(25),
		PToGrid:       reg(26),
		PToUser:       reg(27),
		EPvDay1:       f10(28),
		EPvDay2:       f10(29),
		EPvDay3:       f10(30),
		EInvDay:       f10(31),
		ERecDay:       f10(32),
		EChgDay:       f10(33),
		EDischgDay:    f10(34),
		EEpsDay:       f10(35),
		EToGridDay:    f10(36),
		EToUserDay:    f10(37),
		VBus1:         f10(38),
		VBus2:         f10(39),

		EPvAll1:    f32_10(40),
		EPvAll2:    f32_10(42),
		EPvAll3:    f32_10(44),
		EInvAll:    f32_10(46),
		ERecAll:    f32_10(48),
		EChgAll:    f32_10(50),
		EDischgAll: f32_10(52),
		EEpsAll:    f32_10(54),
		EToGridAll: f32_10(56),
		EToUserAll: f32_10(58),

		FaultCode:   reg32(60),
		WarningCode: reg32(62),

		TInner:  reg(64),
		TRad1:   reg(65),
		TRad2:   reg(66),
		TBat:    reg(67),
		Runtime: reg32(69),

		MaxChgCurr:       f100(81),
		MaxDischgCurr:    f100(82),
		ChargeVoltRef:    f10(83),
		DischgCutVolt:    f10(84),
		BatStatus0:       reg(85),
		BatStatus1:       reg(86),
		BatStatus2:       reg(87),
		BatStatus3:       reg(88),
		BatStatus4:       reg(89),
		BatStatus5:       reg(90),
		BatStatus6:       reg(91),
		BatStatus7:       reg(92),
		BatStatus8:       reg(93),
		BatStatus9:       reg(94),
		BatStatusInv:     reg(95),
		BatCount:         reg(96),
		BatCapacity:      reg(97),
		BatCurrent:       f100(98),
		BmsEvent1:        reg(99),
		BmsEvent2:        reg(100),
		MaxCellVoltage:   f1000(101),
		MinCellVoltage:   f1000(102),
		MaxCellTemp:      f10(103),
		MinCellTemp:      f10(104),
		BmsFwUpdateState: reg(105),
		CycleCount:       reg(106),
		VBatInv:          f10(107),

		VGen:      f10(121),
		FGen:      f100(122),
		PGen:      reg(123),
		EGenDay:   f10(124),
		EGenAll:   f32_10(125),
		VEpsL1:    f10(127),
		VEpsL2:    f10(128),
		PEpsL1:    reg(129),
		PEpsL2:    reg(130),
		SEpsL1:    reg(131),
		SEpsL2:    reg(132),
		EEpsL1Day: f10(133),
		EEpsL2Day: f10(134),
		EEpsL1All: f32_10(135),
		EEpsL2All: f32_10(137),

		Time:    now,
		Datalog: datalog,
	}

	if firstErr != nil {
		return nil, firstErr
	}

	// derived sums
	t.VPv = t.VPv1 + t.VPv2 + t.VPv3
	t.PPv = t.PPv1 + t.PPv2 + t.PPv3
	t.EPvDay = t.EPvDay1 + t.EPvDay2 + t.EPvDay3
	t.EPvAll = t.EPvAll1 + t.EPvAll2 + t.EPvAll3
	t.PBattery = t.PCharge - t.PDischarge
	t.PGrid = t.PToUser - t.PToGrid

	return t, nil
}
